package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/activity"
	"github.com/goliatone/go-bootenv/pkg/backend"
	"github.com/google/uuid"
)

// sourcedDefaults is implemented by defaults providers that can report which
// layer supplied each key, such as bootenv.LayeredDefaults.
type sourcedDefaults interface {
	Resolve() (*bootenv.Environment, map[string]string)
}

// Store is the in-memory environment together with the backends it is
// persisted to.
type Store struct {
	registry *backend.Registry
	defaults bootenv.DefaultsProvider
	rules    *bootenv.RuleSet
	logger   bootenv.Logger
	emitter  *activity.Emitter
	now      func() time.Time
	session  uuid.UUID

	env    *bootenv.Environment
	state  State
	origin bootenv.Origin
	active backend.Backend
}

// New builds a Store. It fails when the configured backends do not form a
// valid registry.
func New(opts ...Option) (*Store, error) {
	cfg := applyOptions(opts)

	registry := cfg.registry
	if registry == nil {
		var err error
		registry, err = backend.NewRegistry(cfg.backends...)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
	}

	return &Store{
		registry: registry,
		defaults: cfg.defaults,
		rules:    cfg.rules,
		logger:   cfg.logger,
		emitter:  cfg.emitter,
		now:      cfg.now,
		session:  cfg.session,
		env:      bootenv.NewEnvironment(),
		state:    StateUninitialized,
	}, nil
}

// BootLoad replaces the in-memory environment with the first valid one found
// on the backends, tried from highest to lowest priority, or with the defaults
// when none has one. Storage failures are reported through the logger and
// activity hooks; only context cancellation is returned.
func (s *Store) BootLoad(ctx context.Context) error {
	var reasons []string
	for _, b := range s.registry.Backends() {
		name := b.Descriptor().Name
		start := time.Now()
		result, err := b.Load(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Log(bootenv.LogEvent{
				Level:    bootenv.LevelWarn,
				Op:       "load",
				Message:  "no valid environment on backend",
				Backend:  name,
				Duration: time.Since(start),
				Err:      err,
			})
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		s.env = result.Env
		if s.env == nil {
			s.env = bootenv.NewEnvironment()
		}
		s.active = b
		s.state = StateLoaded
		s.origin = bootenv.Origin{
			Backend:  name,
			Slot:     result.Slot,
			Flag:     result.Flag,
			Degraded: result.Degraded,
			LoadedAt: s.now(),
		}

		level, message := bootenv.LevelInfo, "loaded environment"
		if result.Degraded {
			level, message = bootenv.LevelWarn, "loaded environment from the only readable copy"
			s.origin.Reason = degradedReason(result)
		}
		s.logger.Log(bootenv.LogEvent{
			Level:    level,
			Op:       "load",
			Message:  message,
			Backend:  name,
			Slot:     result.Slot.String(),
			Duration: time.Since(start),
			Fields:   map[string]any{"variables": s.env.Len()},
		})
		s.emit(ctx, activity.BuildLoadedEvent(s.eventInput(activity.EnvEventInput{
			Backend:   name,
			Slot:      result.Slot.String(),
			Flag:      result.Flag.String(),
			Degraded:  result.Degraded,
			Variables: s.env.Len(),
			Reason:    s.origin.Reason,
		})))
		return nil
	}

	reason := "no backend configured"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	s.useDefaults(reason)
	s.active = nil
	s.state = StateDefaulted

	s.logger.Log(bootenv.LogEvent{
		Level:   bootenv.LevelWarn,
		Op:      "load",
		Message: "using default environment",
		Fields:  map[string]any{"reason": reason, "variables": s.env.Len()},
	})
	s.emit(ctx, activity.BuildDefaultedEvent(s.eventInput(activity.EnvEventInput{
		Variables: s.env.Len(),
		Reason:    reason,
	})))
	return nil
}

func degradedReason(result backend.LoadResult) string {
	var parts []string
	for i, err := range result.CopyErrors {
		if err != nil {
			parts = append(parts, fmt.Sprintf("%s copy: %v", bootenv.Slot(i), err))
		}
	}
	return strings.Join(parts, "; ")
}

func (s *Store) useDefaults(reason string) {
	var sources map[string]string
	if sourced, ok := s.defaults.(sourcedDefaults); ok {
		s.env, sources = sourced.Resolve()
	} else {
		s.env = s.defaults.Defaults()
	}
	if s.env == nil {
		s.env = bootenv.NewEnvironment()
	}
	s.origin = bootenv.Origin{
		Slot:      bootenv.SlotNone,
		Defaulted: true,
		Reason:    reason,
		LoadedAt:  s.now(),
		Sources:   sources,
	}
}

// Get returns the value of key.
func (s *Store) Get(key string) (string, error) {
	value, ok := s.env.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Set assigns value to key and marks the environment dirty. Invalid names or
// values and changes refused by the rules leave the environment untouched.
func (s *Store) Set(key, value string) error {
	if s.state == StateUninitialized {
		return ErrNotLoaded
	}
	if err := bootenv.ValidatePair(key, value); err != nil {
		return err
	}
	if err := s.rules.CheckSet(s.env, key, value); err != nil {
		return err
	}
	s.env.Set(key, value)
	s.state = StateDirty
	return nil
}

// Unset removes key and marks the environment dirty. Removing an absent key
// is a no-op.
func (s *Store) Unset(key string) error {
	if s.state == StateUninitialized {
		return ErrNotLoaded
	}
	if err := s.rules.CheckUnset(s.env, key); err != nil {
		return err
	}
	if s.env.Unset(key) {
		s.state = StateDirty
	}
	return nil
}

// Reset replaces the environment with the defaults and marks it dirty, so the
// next Commit persists them.
func (s *Store) Reset() error {
	if s.state == StateUninitialized {
		return ErrNotLoaded
	}
	s.useDefaults("reset to defaults")
	s.state = StateDirty
	s.logger.Log(bootenv.LogEvent{
		Level:   bootenv.LevelInfo,
		Op:      "reset",
		Message: "environment reset to defaults",
		Fields:  map[string]any{"variables": s.env.Len()},
	})
	s.emit(context.Background(), activity.BuildResetEvent(s.eventInput(activity.EnvEventInput{
		Variables: s.env.Len(),
	})))
	return nil
}

// Commit persists the environment to the active backend: the one it was
// loaded from, else the highest priority one. On failure the store stays
// Dirty and the backend error is returned.
func (s *Store) Commit(ctx context.Context) error {
	if s.state != StateDirty {
		return fmt.Errorf("%w (state %s)", ErrNotDirty, s.state)
	}
	target := s.active
	if target == nil {
		first, ok := s.registry.First()
		if !ok {
			return ErrNoBackend
		}
		target = first
	}
	name := target.Descriptor().Name

	start := time.Now()
	result, err := target.Save(ctx, s.env)
	duration := time.Since(start)
	if err != nil {
		s.logger.Log(bootenv.LogEvent{
			Level:    bootenv.LevelError,
			Op:       "commit",
			Message:  "saving environment failed",
			Backend:  name,
			Duration: duration,
			Err:      err,
		})
		s.emit(ctx, activity.BuildSaveFailedEvent(s.eventInput(activity.EnvEventInput{
			Backend:   name,
			Variables: s.env.Len(),
			Err:       err,
		})))
		return fmt.Errorf("state: commit to %s: %w", name, err)
	}

	s.active = target
	s.state = StateLoaded
	s.origin = bootenv.Origin{
		Backend:  name,
		Slot:     result.Slot,
		Flag:     bootenv.FlagValid,
		LoadedAt: s.now(),
	}
	s.logger.Log(bootenv.LogEvent{
		Level:    bootenv.LevelInfo,
		Op:       "commit",
		Message:  "saved environment",
		Backend:  name,
		Slot:     result.Slot.String(),
		Duration: duration,
		Fields:   map[string]any{"offset": result.Offset, "demoted": result.Demoted},
	})
	s.emit(ctx, activity.BuildSavedEvent(s.eventInput(activity.EnvEventInput{
		Backend:   name,
		Slot:      result.Slot.String(),
		Flag:      bootenv.FlagValid.String(),
		Variables: s.env.Len(),
	})))
	return nil
}

// Erase erases every copy on the named backend. The in-memory environment is
// kept; a loaded store without pending changes moves to Erased, and the next
// BootLoad falls back to defaults if no other backend holds a copy. A store
// that was never loaded stays Uninitialized.
func (s *Store) Erase(ctx context.Context, name string) error {
	target, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}

	start := time.Now()
	err := target.Erase(ctx)
	duration := time.Since(start)
	if err != nil {
		s.logger.Log(bootenv.LogEvent{
			Level:    bootenv.LevelError,
			Op:       "erase",
			Message:  "erasing environment failed",
			Backend:  name,
			Duration: duration,
			Err:      err,
		})
		s.emit(ctx, activity.BuildEraseFailedEvent(s.eventInput(activity.EnvEventInput{
			Backend: name,
			Err:     err,
		})))
		return fmt.Errorf("state: erase %s: %w", name, err)
	}

	switch s.state {
	case StateDirty, StateUninitialized:
	default:
		s.state = StateErased
	}
	s.logger.Log(bootenv.LogEvent{
		Level:    bootenv.LevelInfo,
		Op:       "erase",
		Message:  "erased environment",
		Backend:  name,
		Duration: duration,
	})
	s.emit(ctx, activity.BuildErasedEvent(s.eventInput(activity.EnvEventInput{Backend: name})))
	return nil
}

// Environment returns a copy of the in-memory environment.
func (s *Store) Environment() *bootenv.Environment {
	return s.env.Clone()
}

// Origin reports where the in-memory environment came from.
func (s *Store) Origin() bootenv.Origin {
	origin := s.origin
	if s.origin.Sources != nil {
		origin.Sources = make(map[string]string, len(s.origin.Sources))
		for key, layer := range s.origin.Sources {
			origin.Sources[key] = layer
		}
	}
	return origin
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	return s.state
}

// Session returns the boot session ID carried on activity events.
func (s *Store) Session() uuid.UUID {
	return s.session
}

// Backend returns the name of the backend Commit writes to, or "" when the
// environment was defaulted and no backend is configured.
func (s *Store) Backend() string {
	if s.active != nil {
		return s.active.Descriptor().Name
	}
	if first, ok := s.registry.First(); ok {
		return first.Descriptor().Name
	}
	return ""
}

func (s *Store) eventInput(input activity.EnvEventInput) activity.EnvEventInput {
	input.SessionID = s.session.String()
	input.OccurredAt = s.now()
	return input
}

func (s *Store) emit(ctx context.Context, event activity.Event) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Log(bootenv.LogEvent{
			Level:   bootenv.LevelWarn,
			Op:      "activity",
			Message: "activity hook failed",
			Backend: event.ObjectID,
			Err:     err,
			Fields:  map[string]any{"verb": event.Verb},
		})
	}
}
