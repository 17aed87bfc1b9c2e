package bootenv

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	// ErrReadOnly reports a change to a variable whose rule forbids any change.
	ErrReadOnly = errors.New("bootenv: variable is read-only")
	// ErrWriteOnce reports a change to a write-once variable that already has a value.
	ErrWriteOnce = errors.New("bootenv: variable can only be written once")
	// ErrRuleRejected reports a rule expression that did not evaluate to true.
	ErrRuleRejected = errors.New("bootenv: rejected by rule")
)

// Access restricts how a variable may change once the environment is loaded.
type Access string

const (
	AccessAny       Access = "any"
	AccessReadOnly  Access = "readonly"
	AccessWriteOnce Access = "writeonce"
)

func (a Access) valid() bool {
	switch a {
	case "", AccessAny, AccessReadOnly, AccessWriteOnce:
		return true
	}
	return false
}

// Rule constrains variables whose names match Key, a path.Match pattern.
// Expr, when set, must evaluate to true for a change to be accepted; Args is
// bound to `args` in the expression.
type Rule struct {
	Key    string         `json:"key"`
	Access Access         `json:"access,omitempty"`
	Expr   string         `json:"expr,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// RuleOption configures a RuleSet.
type RuleOption func(*ruleConfig)

type ruleConfig struct {
	evaluator Evaluator
	logger    Logger
	now       func() time.Time
}

// WithRuleEvaluator replaces the default expr evaluator.
func WithRuleEvaluator(evaluator Evaluator) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.evaluator = evaluator
	}
}

// WithRuleLogger records every expression evaluation.
func WithRuleLogger(logger Logger) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.logger = logger
	}
}

// WithRuleClock overrides the clock bound to `now`.
func WithRuleClock(now func() time.Time) RuleOption {
	return func(cfg *ruleConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

type compiledRule struct {
	rule    Rule
	program CompiledRule
}

// RuleSet checks environment changes against an ordered list of rules. The
// first rule whose pattern matches a key applies; keys matching no rule are
// unrestricted.
type RuleSet struct {
	rules     []compiledRule
	evaluator Evaluator
	logger    Logger
	now       func() time.Time
}

// NewRuleSet validates patterns and compiles expressions up front so a bad
// rule fails at construction rather than on the first Set.
func NewRuleSet(rules []Rule, opts ...RuleOption) (*RuleSet, error) {
	cfg := ruleConfig{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.evaluator == nil {
		cfg.evaluator = NewExprEvaluator(
			ExprWithProgramCache(newProgramCache()),
			ExprWithFunctionRegistry(NewTypeRegistry()),
		)
	}
	if cfg.evaluator == nil {
		return nil, ErrNoEvaluator
	}

	set := &RuleSet{
		rules:     make([]compiledRule, 0, len(rules)),
		evaluator: cfg.evaluator,
		logger:    LoggerOrNop(cfg.logger),
		now:       cfg.now,
	}
	for _, rule := range rules {
		rule.Key = strings.TrimSpace(rule.Key)
		if rule.Key == "" {
			return nil, fmt.Errorf("bootenv: rule key pattern must not be empty")
		}
		if _, err := path.Match(rule.Key, ""); err != nil {
			return nil, fmt.Errorf("bootenv: rule %q: %w", rule.Key, err)
		}
		if !rule.Access.valid() {
			return nil, fmt.Errorf("bootenv: rule %q: unknown access %q", rule.Key, rule.Access)
		}
		entry := compiledRule{rule: rule}
		if rule.Expr != "" {
			program, err := cfg.evaluator.Compile(rule.Expr)
			if err != nil {
				return nil, wrapEvaluationError(evaluatorEngineName(cfg.evaluator), rule.Expr, rule.Key, err)
			}
			entry.program = program
		}
		set.rules = append(set.rules, entry)
	}
	return set, nil
}

// Rules returns a copy of the configured rules.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i, entry := range s.rules {
		out[i] = entry.rule
	}
	return out
}

// Match returns the rule that governs key.
func (s *RuleSet) Match(key string) (Rule, bool) {
	entry, ok := s.match(key)
	if !ok {
		return Rule{}, false
	}
	return entry.rule, true
}

func (s *RuleSet) match(key string) (compiledRule, bool) {
	if s == nil {
		return compiledRule{}, false
	}
	for _, entry := range s.rules {
		if ok, _ := path.Match(entry.rule.Key, key); ok {
			return entry, true
		}
	}
	return compiledRule{}, false
}

// CheckSet validates setting key to value in env.
func (s *RuleSet) CheckSet(env *Environment, key, value string) error {
	old, exists := env.Get(key)
	return s.check(RuleContext{
		Key:    key,
		Value:  value,
		Old:    old,
		Exists: exists,
		Env:    env,
	})
}

// CheckUnset validates deleting key from env. Deleting an absent key is
// always accepted.
func (s *RuleSet) CheckUnset(env *Environment, key string) error {
	old, exists := env.Get(key)
	if !exists {
		return nil
	}
	return s.check(RuleContext{
		Key:      key,
		Old:      old,
		Exists:   true,
		Deleting: true,
		Env:      env,
	})
}

func (s *RuleSet) check(ctx RuleContext) error {
	entry, ok := s.match(ctx.Key)
	if !ok {
		return nil
	}
	switch entry.rule.Access {
	case AccessReadOnly:
		return fmt.Errorf("%w: %s", ErrReadOnly, ctx.Key)
	case AccessWriteOnce:
		if ctx.Exists {
			return fmt.Errorf("%w: %s", ErrWriteOnce, ctx.Key)
		}
	}
	if entry.program == nil {
		return nil
	}

	now := s.now()
	ctx.Now = &now
	access := entry.rule.Access
	if access == "" {
		access = AccessAny
	}
	ctx.Args = entry.rule.Args
	ctx.Metadata = map[string]any{
		"rule":   entry.rule.Key,
		"access": string(access),
	}
	start := time.Now()
	result, err := entry.program.Evaluate(ctx)
	duration := time.Since(start)
	err = wrapEvaluationError(evaluatorEngineName(s.evaluator), entry.rule.Expr, ctx.Key, err)
	s.logger.Log(LogEvent{
		Level:    LevelDebug,
		Op:       "rule",
		Message:  "evaluated variable rule",
		Key:      ctx.Key,
		Duration: duration,
		Err:      err,
		Fields:   map[string]any{"expr": entry.rule.Expr},
	})
	if err != nil {
		return err
	}
	if accepted, ok := result.(bool); !ok || !accepted {
		return fmt.Errorf("%w: %s (%s)", ErrRuleRejected, ctx.Key, entry.rule.Expr)
	}
	return nil
}

type programCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

func newProgramCache() *programCache {
	return &programCache{programs: make(map[string]any)}
}

func (c *programCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.programs[key]
	return value, ok
}

func (c *programCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs[key] = value
}
