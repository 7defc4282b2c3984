// Package env implements the Environment named in spec.md §4.11: the
// top-level object that wires the ambient stack (logging, tracing, stats,
// configuration) to the core (cooperations, the timer facade, a default
// dispatcher) and orchestrates startup/shutdown. Concrete dispatcher
// thread pools and layers beyond the ones spec.md names are out of the
// core's scope; this package supplies a reference wiring good enough for
// the CLI demo and the end-to-end tests.
package env

import (
	"fmt"
	"sync"

	"actorcore/internal/agent"
	"actorcore/internal/config"
	"actorcore/internal/coop"
	"actorcore/internal/dispatcher"
	"actorcore/internal/logging"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
	"actorcore/internal/stats"
	"actorcore/internal/timer"
	"actorcore/internal/tracing"
)

// stopGuardRepository is the "stop-guard repository" named in spec.md
// §4.11: stop() initiates via this repository, and the actual shutdown
// runs only once every named guard has been removed.
type stopGuardRepository struct {
	mu        sync.Mutex
	guards    map[string]struct{}
	stopping  bool
	onDrained func()
	fired     bool
}

func newStopGuardRepository() *stopGuardRepository {
	return &stopGuardRepository{guards: make(map[string]struct{})}
}

// Add registers a named guard preventing stop from completing. It fails
// once stop has already been initiated, per spec.md §6's
// rc_cannot_set_stop_guard_when_stop_is_started.
func (r *stopGuardRepository) Add(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return rc.New(rc.CannotSetStopGuardWhenStopIsStarted,
			fmt.Sprintf("cannot add stop guard %q after stop has started", name))
	}
	r.guards[name] = struct{}{}
	return nil
}

// Remove clears a named guard, triggering the drained callback once stop
// has been initiated and no guard remains.
func (r *stopGuardRepository) Remove(name string) {
	r.mu.Lock()
	delete(r.guards, name)
	r.fireIfDrainedLocked()
	r.mu.Unlock()
}

// BeginStop marks the repository as stopping and installs onDrained,
// firing it immediately if no guard is currently held.
func (r *stopGuardRepository) BeginStop(onDrained func()) {
	r.mu.Lock()
	r.stopping = true
	r.onDrained = onDrained
	r.fireIfDrainedLocked()
	r.mu.Unlock()
}

// fireIfDrainedLocked must be called with r.mu held.
func (r *stopGuardRepository) fireIfDrainedLocked() {
	if r.fired || !r.stopping || len(r.guards) != 0 || r.onDrained == nil {
		return
	}
	r.fired = true
	cb := r.onDrained
	go cb()
}

// options accumulates Environment construction overrides. Any field left
// nil is resolved to a sensible default in New.
type options struct {
	logger *logging.Logger
	trace  tracing.Sink
	stats  *stats.Repository
	cfg    *config.Config
}

// Option configures an Environment at construction time.
type Option func(*options)

// WithLogger overrides the default file-backed logger.
func WithLogger(l *logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithTraceSink overrides the default in-memory tracing sink.
func WithTraceSink(s tracing.Sink) Option { return func(o *options) { o.trace = s } }

// WithStats overrides the default stats repository.
func WithStats(r *stats.Repository) Option { return func(o *options) { o.stats = r } }

// WithConfig overrides the default (environment/YAML resolved) configuration.
func WithConfig(c *config.Config) Option { return func(o *options) { o.cfg = c } }

// Environment is the construction named in spec.md §4.11. Fields are
// exported read-only handles; callers build coops under RootCoop and wire
// agents with NewAgentHooks rather than reaching into the wiring directly.
type Environment struct {
	Logger *logging.Logger
	Trace  tracing.Sink
	Stats  *stats.Repository
	Config *config.Config

	timerSrc      *timer.Source
	defaultQueue  *dispatcher.ThreadPerAgent
	defaultBinder coop.Binder
	installer     *queue.Installer
	rootCoop      *coop.Coop
	guards        *stopGuardRepository

	mu      sync.Mutex
	running bool
	stopped bool
}

// New constructs an Environment, resolving in this order: configuration,
// the logger, the message-tracing sink, the stats repository, then the
// timer source, the stop-guard repository, the default dispatcher, an
// event-queue hook that sets the default queue's depth gauge to 0 on each
// bind, and the root cooperation.
func New(opts ...Option) (*Environment, error) {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}

	if o.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("resolve configuration: %w", err)
		}
		o.cfg = cfg
	}
	if o.logger == nil {
		l, err := logging.New(o.cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("construct logger: %w", err)
		}
		o.logger = l
	}
	if o.trace == nil {
		o.trace = tracing.NewMemorySink(256)
	}
	if o.stats == nil {
		o.stats = stats.NewRepository()
	}

	e := &Environment{
		Logger: o.logger,
		Trace:  o.trace,
		Stats:  o.stats,
		Config: o.cfg,

		timerSrc: timer.NewSource(),
		guards:   newStopGuardRepository(),
	}

	e.defaultQueue = dispatcher.NewThreadPerAgent(o.cfg.MailboxCapacity)
	e.installer = queue.NewInstaller(queue.HookFuncs{
		Bind: func(q queue.EventQueue) queue.EventQueue {
			e.Stats.SetQueueDepth("default", 0)
			return q
		},
	})
	e.defaultBinder = coop.BinderFunc(func(_ *coop.Coop, _ *agent.Agent) queue.EventQueue {
		return e.installer.Bind(e.defaultQueue)
	})

	e.rootCoop = coop.New("root", nil, nil)
	e.rootCoop.OnRegistered(func(c *coop.Coop) {
		e.Stats.SetCoopUsage(c.Name(), float64(c.Usage().Count()))
		e.Logger.Info("coop registered", logging.String("coop", c.Name()))
	})
	e.rootCoop.OnDeregistered(func(c *coop.Coop, reason string) {
		e.Stats.RecordAgentDeregistered()
		e.Logger.Info("coop deregistered", logging.String("coop", c.Name()), logging.String("reason", reason))
	})

	return e, nil
}

// RootCoop returns the environment-owned top-level cooperation. Demo and
// test code registers its own coops as children of this one (or as
// children of a coop already registered under it).
func (e *Environment) RootCoop() *coop.Coop { return e.rootCoop }

// TimerSource returns the environment's shared timer facade.
func (e *Environment) TimerSource() *timer.Source { return e.timerSrc }

// DefaultBinder returns the coop.Binder that binds every agent in a coop
// to the environment's single default dispatcher queue, yielding
// cooperation-FIFO ordering (spec.md §8 scenario S1).
func (e *Environment) DefaultBinder() coop.Binder { return e.defaultBinder }

// NewAgentHooks returns agent.Hooks with OnUsageZero set to owner's
// finalize hook, so the cooperation finalizes once evt-finish drops its
// usage counter to zero, and TimerSource set to the environment's timer
// facade. No logger or stats callbacks are set. Callers may copy and
// extend the result.
func (e *Environment) NewAgentHooks(owner *coop.Coop) agent.Hooks {
	return agent.Hooks{
		OnUsageZero: owner.UsageZeroHook(),
		TimerSource: e.timerSrc,
	}
}

// AddStopGuard registers a named reason the environment must remain up,
// per spec.md §4.11.
func (e *Environment) AddStopGuard(name string) error { return e.guards.Add(name) }

// RemoveStopGuard clears a previously added guard.
func (e *Environment) RemoveStopGuard(name string) { e.guards.Remove(name) }

// Run registers the root cooperation, then calls init while holding a
// "run_init" stop guard (unless autoShutdownGuard is false), so a Stop
// issued meanwhile does not complete before init returns. init may
// register further coops/agents against RootCoop().
func (e *Environment) Run(autoShutdownGuard bool, init func(*Environment) error) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("environment already running")
	}
	e.running = true
	e.mu.Unlock()

	if err := e.rootCoop.Register(e.defaultBinder); err != nil {
		return fmt.Errorf("register root coop: %w", err)
	}

	const guardName = "run_init"
	if autoShutdownGuard {
		if err := e.AddStopGuard(guardName); err != nil {
			return fmt.Errorf("add run guard: %w", err)
		}
		defer e.RemoveStopGuard(guardName)
	}

	if init != nil {
		if err := init(e); err != nil {
			return fmt.Errorf("environment init: %w", err)
		}
	}
	return nil
}

// Stop initiates shutdown via the stop-guard repository; the actual
// teardown of the timer source, default dispatcher, and root cooperation
// runs only once every guard has been removed. Stop blocks until teardown
// completes.
func (e *Environment) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})
	e.guards.BeginStop(func() {
		e.rootCoop.Deregister("shutdown")
		e.defaultQueue.Close()
		e.timerSrc.Close()
		_ = e.Logger.Sync()
		close(done)
	})
	<-done
}
