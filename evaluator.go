package bootenv

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEvaluator = errors.New("bootenv: evaluator not configured")

// RuleContext carries the inputs of one rule evaluation: the variable being
// changed and the environment it is changed in. Args holds the matched rule's
// arguments and Metadata describes the rule itself (pattern and access).
type RuleContext struct {
	Key      string
	Value    string
	Old      string
	Exists   bool
	Deleting bool
	Env      *Environment
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaults()
	return *ctx.Now
}

// bindings returns the variables every engine exposes to expressions.
func (ctx RuleContext) bindings() map[string]any {
	env := make(map[string]any, ctx.Env.Len())
	for _, pair := range ctx.Env.Pairs() {
		env[pair.Key] = pair.Value
	}
	return map[string]any{
		"key":      ctx.Key,
		"value":    ctx.Value,
		"old":      ctx.Old,
		"exists":   ctx.Exists,
		"deleting": ctx.Deleting,
		"env":      env,
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
}

// Evaluator executes rule expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*bootenv.exprEvaluator":
		return "expr"
	case "*bootenv.celEvaluator":
		return "cel"
	case "*bootenv.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
