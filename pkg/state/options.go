package state

import (
	"time"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/activity"
	"github.com/goliatone/go-bootenv/pkg/backend"
	"github.com/google/uuid"
)

// Option configures a Store.
type Option func(*config)

type config struct {
	backends []backend.Backend
	registry *backend.Registry
	defaults bootenv.DefaultsProvider
	rules    *bootenv.RuleSet
	logger   bootenv.Logger
	emitter  *activity.Emitter
	hooks    activity.Hooks
	channel  string
	now      func() time.Time
	session  uuid.UUID
}

// WithBackends registers backends; they are ordered by priority.
func WithBackends(backends ...backend.Backend) Option {
	return func(cfg *config) {
		cfg.backends = append(cfg.backends, backends...)
	}
}

// WithRegistry uses an already validated registry. It takes precedence over
// WithBackends.
func WithRegistry(registry *backend.Registry) Option {
	return func(cfg *config) {
		cfg.registry = registry
	}
}

// WithDefaults sets the environment used when no backend holds a valid copy.
func WithDefaults(defaults bootenv.DefaultsProvider) Option {
	return func(cfg *config) {
		cfg.defaults = defaults
	}
}

// WithRules checks every Set and Unset against rules.
func WithRules(rules *bootenv.RuleSet) Option {
	return func(cfg *config) {
		cfg.rules = rules
	}
}

// WithLogger records load, commit and erase outcomes.
func WithLogger(logger bootenv.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithActivityHooks emits lifecycle events to hooks on the given channel.
// An empty channel uses activity.DefaultChannel.
func WithActivityHooks(channel string, hooks ...activity.ActivityHook) Option {
	return func(cfg *config) {
		cfg.channel = channel
		cfg.hooks = append(cfg.hooks, hooks...)
	}
}

// WithActivityEmitter uses a preconfigured emitter. It takes precedence over
// WithActivityHooks.
func WithActivityEmitter(emitter *activity.Emitter) Option {
	return func(cfg *config) {
		cfg.emitter = emitter
	}
}

// WithClock overrides the clock used for Origin.LoadedAt and event times.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithSession fixes the boot session ID carried on every event.
func WithSession(id uuid.UUID) Option {
	return func(cfg *config) {
		cfg.session = id
	}
}

func applyOptions(opts []Option) config {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.session == uuid.Nil {
		cfg.session = uuid.New()
	}
	if cfg.defaults == nil {
		cfg.defaults = bootenv.DefaultsFunc(nil)
	}
	if cfg.emitter == nil {
		cfg.emitter = activity.NewEmitter(cfg.hooks, activity.Config{
			Enabled: len(cfg.hooks) > 0,
			Channel: cfg.channel,
		})
	}
	cfg.logger = bootenv.LoggerOrNop(cfg.logger)
	return cfg
}
