// Package hydrate decodes board profile documents into typed structs. A
// Decoder runs pre-hooks over the raw JSON object (size normalisation, board
// shorthands), decodes it, then runs post-hooks that validate the result.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Context identifies the board document being decoded in hooks and errors.
// When Board is empty the decoder takes it from the document's "board" key.
type Context struct {
	Board  string
	Source string
}

func (c Context) String() string {
	board := c.Board
	if board == "" {
		board = "<unnamed>"
	}
	if c.Source == "" {
		return fmt.Sprintf("board %q", board)
	}
	return fmt.Sprintf("board %q (%s)", board, c.Source)
}

// Stage names the decode step that failed.
type Stage string

const (
	StageRead     Stage = "read"
	StagePayload  Stage = "payload"
	StagePreHook  Stage = "pre-hook"
	StageDecode   Stage = "decode"
	StagePostHook Stage = "post-hook"
)

// DecodeError reports which board document failed and at which stage.
type DecodeError struct {
	Context Context
	Stage   Stage
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("hydrate: %s %s: %v", e.Stage, e.Context, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PreHook rewrites the raw document before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded struct.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces JSON decoding of the normalised document.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts board documents into T.
type Decoder[T any] struct {
	preHooks  []PreHook
	postHooks []PostHook[T]
	strict    bool
	custom    CustomDecoder[T]
	boardKey  string
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithDisallowUnknownFields rejects keys T does not declare, so a misspelt
// slot_size fails instead of leaving the size at zero.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.strict = true
	}
}

// WithCustomDecoder replaces JSON decoding of the normalised document.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

// WithBoardKey changes the document key the board name is read from.
func WithBoardKey[T any](key string) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.boardKey = key
	}
}

// NewDecoder builds a Decoder from opts.
func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{boardKey: "board"}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// DecodeFile reads the document at path and decodes it.
func (d *Decoder[T]) DecodeFile(path string) (T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		var zero T
		return zero, &DecodeError{Context: Context{Source: path}, Stage: StageRead, Err: err}
	}
	return d.DecodeBytes(path, raw)
}

// DecodeBytes decodes a JSON object read from source.
func (d *Decoder[T]) DecodeBytes(source string, raw []byte) (T, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		var zero T
		return zero, &DecodeError{Context: Context{Source: source}, Stage: StagePayload, Err: err}
	}
	return d.Decode(Context{Source: source}, payload)
}

// Decode converts payload into T. payload is copied before any hook runs.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	fail := func(stage Stage, err error) (T, error) {
		return zero, &DecodeError{Context: ctx, Stage: stage, Err: err}
	}

	if payload == nil {
		return fail(StagePayload, fmt.Errorf("payload is nil"))
	}
	if ctx.Board == "" {
		ctx.Board, _ = payload[d.boardKey].(string)
	}

	current, err := clonePayload(payload)
	if err != nil {
		return fail(StagePayload, err)
	}
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return fail(StagePreHook, err)
		}
		if next != nil {
			current = next
		}
	}

	var result T
	if d.custom != nil {
		if result, err = d.custom(ctx, current); err != nil {
			return fail(StageDecode, err)
		}
	} else {
		buffer, err := json.Marshal(current)
		if err != nil {
			return fail(StageDecode, err)
		}
		decoder := json.NewDecoder(bytes.NewReader(buffer))
		if d.strict {
			decoder.DisallowUnknownFields()
		}
		if err := decoder.Decode(&result); err != nil {
			return fail(StageDecode, err)
		}
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return fail(StagePostHook, err)
		}
	}
	return result, nil
}

// SizeFields returns a PreHook that turns size strings ("0x3f8000",
// "-0x8000", "32_768") into integers. fields are looked up on every object of
// the array stored under list; array values are converted element-wise.
func SizeFields(list string, fields ...string) PreHook {
	return func(_ Context, payload map[string]any) (map[string]any, error) {
		entries, _ := payload[list].([]any)
		for i, entry := range entries {
			object, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range fields {
				value, ok := object[field]
				if !ok {
					continue
				}
				size, err := parseSize(value)
				if err != nil {
					return nil, fmt.Errorf("%s[%d].%s: %w", list, i, field, err)
				}
				object[field] = size
			}
		}
		return payload, nil
	}
}

func parseSize(value any) (any, error) {
	switch v := value.(type) {
	case string:
		n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), "_", ""), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q", v)
		}
		return n, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			size, err := parseSize(item)
			if err != nil {
				return nil, err
			}
			out[i] = size
		}
		return out, nil
	default:
		return value, nil
	}
}

func clonePayload(payload map[string]any) (map[string]any, error) {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, err
	}
	return out, nil
}
