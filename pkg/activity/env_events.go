package activity

import (
	"strings"
	"time"
)

// Verbs emitted for environment lifecycle events.
const (
	VerbLoaded      = "env.loaded"
	VerbDefaulted   = "env.defaulted"
	VerbSaved       = "env.saved"
	VerbSaveFailed  = "env.save_failed"
	VerbErased      = "env.erased"
	VerbEraseFailed = "env.erase_failed"
	VerbReset       = "env.reset"
)

// ObjectType is the object type carried by every environment event.
const ObjectType = "environment"

// EnvEventInput describes the common fields for environment lifecycle events.
// Backend becomes the event object ID; an empty backend is reported as
// "defaults".
type EnvEventInput struct {
	SessionID  string
	ActorID    string
	Channel    string
	Backend    string
	Slot       string
	Flag       string
	Degraded   bool
	Variables  int
	Reason     string
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildLoadedEvent reports an environment recovered from a backend.
func BuildLoadedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbLoaded, input)
}

// BuildDefaultedEvent reports a boot that fell back to the default environment.
func BuildDefaultedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbDefaulted, input)
}

// BuildSavedEvent reports a successful commit.
func BuildSavedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbSaved, input)
}

// BuildSaveFailedEvent reports a commit the backend could not complete.
func BuildSaveFailedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbSaveFailed, input)
}

// BuildErasedEvent reports erased storage copies.
func BuildErasedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbErased, input)
}

// BuildEraseFailedEvent reports an erase with at least one failed copy.
func BuildEraseFailedEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbEraseFailed, input)
}

// BuildResetEvent reports the in-memory environment replaced by defaults.
func BuildResetEvent(input EnvEventInput) Event {
	return buildEnvEvent(VerbReset, input)
}

func buildEnvEvent(verb string, input EnvEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Slot != "" {
		metadata = ensureMetadata(metadata)
		metadata["slot"] = input.Slot
	}
	if input.Flag != "" {
		metadata = ensureMetadata(metadata)
		metadata["flag"] = input.Flag
	}
	if input.Degraded {
		metadata = ensureMetadata(metadata)
		metadata["degraded"] = true
	}
	if input.Variables > 0 {
		metadata = ensureMetadata(metadata)
		metadata["variables"] = input.Variables
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		metadata = ensureMetadata(metadata)
		metadata["reason"] = reason
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	objectID := strings.TrimSpace(input.Backend)
	if objectID == "" {
		objectID = "defaults"
	}

	return Event{
		Verb:       verb,
		SessionID:  strings.TrimSpace(input.SessionID),
		ActorID:    strings.TrimSpace(input.ActorID),
		ObjectType: ObjectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
