// Package daemon implements the power profile control loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
	"github.com/eliteGoblin/focusd/power_mon/internal/usecase"
)

// DefaultCallTimeout bounds every call to the profile tool and process probe.
const DefaultCallTimeout = 5 * time.Second

// ControllerConfig holds loop settings that do not come from the rule file.
type ControllerConfig struct {
	ConfigPath  string        // rule file to (re)load
	CallTimeout time.Duration // per external call
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig(configPath string) ControllerConfig {
	return ControllerConfig{
		ConfigPath:  configPath,
		CallTimeout: DefaultCallTimeout,
	}
}

// Outcome is what a single tick ended with.
type Outcome int

const (
	// OutcomeIdle means the desired profile was already active.
	OutcomeIdle Outcome = iota
	// OutcomeApplied means a new profile was set.
	OutcomeApplied
	// OutcomePaused means the cooldown is still running; nothing was evaluated.
	OutcomePaused
	// OutcomePauseEntered means a manual change was detected and the cooldown started.
	OutcomePauseEntered
	// OutcomeFailed means an external call failed; the next tick retries.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeApplied:
		return "applied"
	case OutcomePaused:
		return "paused"
	case OutcomePauseEntered:
		return "pause-entered"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TickResult describes what one tick did.
type TickResult struct {
	Outcome   Outcome
	Reloaded  bool  // a new configuration was applied this tick
	ReloadErr error // the reload attempted this tick was rejected
	Resumed   bool  // the cooldown expired this tick
	Profile   domain.Profile
	Err       error
}

// Controller is the control loop. All fields below the collaborators are
// owned by the goroutine that calls Init, Tick and Run.
type Controller struct {
	config    ControllerConfig
	store     domain.ConfigStore
	power     domain.ProfileController
	evaluator *usecase.Evaluator
	state     domain.StateStore
	changes   <-chan struct{}
	logger    *zap.Logger
	now       func() time.Time

	settings domain.Settings
	rules    domain.RuleSet
	pause    domain.PauseState

	// remembered profile; hasCurrent is false when the tool reported none
	current    domain.Profile
	hasCurrent bool
	// baselined is false until the live profile has been read once, and
	// again right after a cooldown ends.
	baselined bool
}

// NewController creates a control loop. changes is drained non-blockingly
// once per tick; it may be nil when nothing watches the config file.
func NewController(
	config ControllerConfig,
	store domain.ConfigStore,
	power domain.ProfileController,
	probe domain.ProcessProbe,
	state domain.StateStore,
	changes <-chan struct{},
	logger *zap.Logger,
) *Controller {
	return &Controller{
		config:    config,
		store:     store,
		power:     power,
		evaluator: usecase.NewEvaluator(probe),
		state:     state,
		changes:   changes,
		logger:    logger,
		now:       time.Now,
		settings:  domain.DefaultSettings(),
		rules:     domain.NewRuleSet(nil),
	}
}

// WithClock overrides the time source (for tests).
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Settings returns the active settings.
func (c *Controller) Settings() domain.Settings {
	return c.settings
}

// Rules returns the active rule set.
func (c *Controller) Rules() domain.RuleSet {
	return c.rules
}

// Pause returns the in-memory pause state.
func (c *Controller) Pause() domain.PauseState {
	return c.pause
}

// Remembered returns the profile the loop believes is active.
func (c *Controller) Remembered() (domain.Profile, bool) {
	return c.current, c.hasCurrent
}

// Run checks the profile tool, initialises state and ticks every polling
// interval until ctx is canceled. Only the availability check can fail it.
func (c *Controller) Run(ctx context.Context) error {
	checkCtx, cancel := c.callContext(ctx)
	err := c.power.CheckAvailable(checkCtx)
	cancel()
	if err != nil {
		c.logger.Error("system compatibility check failed", zap.Error(err))
		return err
	}

	c.Init(ctx)

	c.logger.Info("power rules daemon started",
		zap.Int("rules", c.rules.Len()),
		zap.Duration("polling_interval", c.settings.PollingInterval),
		zap.Duration("pause_duration", c.settings.PauseDuration),
		zap.String("default_profile", c.settings.DefaultProfile.String()),
		zap.String("config", c.config.ConfigPath),
		zap.String("state", c.state.Path()))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("power rules daemon stopping")
			return ctx.Err()
		case <-timer.C:
		}

		result := c.Tick(ctx)
		c.logger.Debug("tick",
			zap.Stringer("outcome", result.Outcome),
			zap.Bool("reloaded", result.Reloaded))

		timer.Reset(c.settings.PollingInterval)
	}
}

// Init loads configuration, pause state and the live profile. Failures are
// logged and leave defaults in place.
func (c *Controller) Init(ctx context.Context) {
	cfg, err := c.store.Load(c.config.ConfigPath)
	if err != nil {
		c.logger.Error("failed to load configuration, starting with defaults",
			zap.String("path", c.config.ConfigPath),
			zap.Error(err))
	} else {
		c.apply(cfg)
	}

	pause, err := c.state.Load()
	if err != nil {
		c.logger.Error("failed to load pause state, starting active",
			zap.String("path", c.state.Path()),
			zap.Error(err))
	} else {
		c.pause = pause
		if pause.IsPaused() {
			c.logger.Info("restored pause from previous run",
				zap.Time("paused_until", pause.Deadline()))
		}
	}

	if live, ok, err := c.readCurrent(ctx); err != nil {
		c.logger.Warn("failed to read current profile", zap.Error(err))
	} else {
		c.remember(live, ok)
		c.baselined = true
	}
}

// Tick runs one iteration: reload, pause check, manual change detection,
// then rule evaluation. It issues at most one profile change.
func (c *Controller) Tick(ctx context.Context) TickResult {
	var result TickResult

	select {
	case <-c.changes:
		result.ReloadErr = c.reload()
		result.Reloaded = result.ReloadErr == nil
	default:
	}

	now := c.now()
	if c.pause.IsPaused() {
		if !c.pause.Expired(now) {
			result.Outcome = OutcomePaused
			return result
		}
		c.pause = domain.PauseState{}
		c.persistPause()
		// Changes made during the cooldown belong to it.
		c.baselined = false
		result.Resumed = true
		c.logger.Info("pause period ended, resuming normal operation")
	}

	live, ok, err := c.readCurrent(ctx)
	if err != nil {
		c.logger.Warn("failed to read current profile", zap.Error(err))
		return failed(result, err)
	}

	if !c.baselined {
		c.remember(live, ok)
		c.baselined = true
	} else if live != c.current || ok != c.hasCurrent {
		until := now.Add(c.settings.PauseDuration)
		c.pause = domain.PausedUntil(until)
		c.persistPause()
		c.logger.Info("manual profile change detected, pausing",
			zap.String("from", displayProfile(c.current, c.hasCurrent)),
			zap.String("to", displayProfile(live, ok)),
			zap.Duration("pause", c.settings.PauseDuration),
			zap.Time("paused_until", until))
		c.remember(live, ok)
		result.Outcome = OutcomePauseEntered
		return result
	}

	evalCtx, cancel := c.callContext(ctx)
	decision, err := c.evaluator.Evaluate(evalCtx, c.rules, c.settings.DefaultProfile)
	cancel()
	if err != nil {
		c.logger.Warn("failed to evaluate rules", zap.Error(err))
		return failed(result, err)
	}

	result.Profile = decision.Profile
	if c.hasCurrent && c.current == decision.Profile {
		result.Outcome = OutcomeIdle
		return result
	}

	if decision.Matched() {
		c.logger.Info("applying profile",
			zap.String("profile", decision.Profile.String()),
			zap.String("process", decision.Rule.Process),
			zap.String("previous", displayProfile(c.current, c.hasCurrent)))
	} else {
		c.logger.Info("no matching processes found, applying default profile",
			zap.String("profile", decision.Profile.String()),
			zap.String("previous", displayProfile(c.current, c.hasCurrent)))
	}

	setCtx, cancel := c.callContext(ctx)
	err = c.power.Set(setCtx, decision.Profile)
	cancel()
	if err != nil {
		c.logger.Error("failed to apply profile",
			zap.String("profile", decision.Profile.String()),
			zap.Error(err))
		return failed(result, err)
	}

	c.remember(decision.Profile, true)
	result.Outcome = OutcomeApplied
	return result
}

// reload replaces settings and rules only when the whole file validates.
func (c *Controller) reload() error {
	c.logger.Info("detected config file change, reloading",
		zap.String("path", c.config.ConfigPath))

	cfg, err := c.store.Load(c.config.ConfigPath)
	if err != nil {
		c.logger.Error("error reloading config, keeping previous configuration", zap.Error(err))
		return err
	}

	c.apply(cfg)
	c.logger.Info("successfully reloaded configuration",
		zap.Duration("polling_interval", c.settings.PollingInterval),
		zap.Duration("pause_duration", c.settings.PauseDuration),
		zap.String("default_profile", c.settings.DefaultProfile.String()),
		zap.Int("rules", c.rules.Len()))
	return nil
}

func (c *Controller) apply(cfg *domain.Config) {
	c.settings = cfg.Settings
	c.rules = cfg.Rules
	if len(cfg.Unknown) > 0 {
		c.logger.Warn("ignoring unknown config keys", zap.Strings("keys", cfg.Unknown))
	}
}

// persistPause writes the in-memory pause state. A failure is loud but not
// fatal: the in-memory state still governs this process.
func (c *Controller) persistPause() {
	if err := c.state.Save(c.pause); err != nil {
		c.logger.Error("failed to persist pause state, it will not survive a restart",
			zap.String("path", c.state.Path()),
			zap.Error(err))
	}
}

func (c *Controller) readCurrent(ctx context.Context) (domain.Profile, bool, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	return c.power.Current(callCtx)
}

func (c *Controller) remember(profile domain.Profile, ok bool) {
	c.current, c.hasCurrent = profile, ok
	if !ok {
		c.current = ""
	}
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.CallTimeout)
}

func failed(result TickResult, err error) TickResult {
	result.Outcome = OutcomeFailed
	result.Err = err
	return result
}

func displayProfile(p domain.Profile, ok bool) string {
	if !ok {
		return "none"
	}
	return p.String()
}
