//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/power_mon/internal/config"
	"github.com/eliteGoblin/focusd/power_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
	"github.com/eliteGoblin/focusd/power_mon/internal/infra"
	"github.com/eliteGoblin/focusd/power_mon/test/fixtures"
)

var _ = Describe("Controller", func() {
	var (
		tmpDir     string
		configPath string
		paths      *infra.Paths
		ctl        *fixtures.FakeProfilesCtl
		power      *infra.PowerProfilesCtl
		probe      *fixtures.StaticProbe
		now        time.Time
		ctx        context.Context
	)

	newController := func(state domain.StateStore, changes <-chan struct{}) *daemon.Controller {
		return daemon.NewController(
			daemon.DefaultControllerConfig(configPath),
			config.NewTOMLStore(),
			power,
			probe,
			state,
			changes,
			zap.NewNop(),
		).WithClock(func() time.Time { return now })
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "powermon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		paths = infra.PathsForHome(tmpDir)
		configPath = paths.ConfigPath

		ctl = fixtures.NewFakeProfilesCtl(filepath.Join(tmpDir, "bin"))
		Expect(ctl.Install("balanced")).To(Succeed())
		power = infra.NewPowerProfilesCtlWithRunner(ctl.Binary(), infra.ExecRunner{})

		probe = fixtures.NewStaticProbe()
		now = time.Unix(1_700_000_000, 0)
		ctx = context.Background()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("startup", func() {
		Context("when the rule file does not exist", func() {
			It("should run with defaults", func() {
				c := newController(infra.NewFileStateStore(paths.StatePath), nil)
				c.Init(ctx)

				Expect(c.Rules().Len()).To(Equal(0))
				Expect(c.Settings()).To(Equal(domain.DefaultSettings()))
			})
		})

		Context("when the profile tool works", func() {
			It("should pass the compatibility check", func() {
				Expect(power.CheckAvailable(ctx)).To(Succeed())
			})
		})

		Context("when the profile tool is missing", func() {
			It("should refuse to run", func() {
				missing := infra.NewPowerProfilesCtlWithRunner(filepath.Join(tmpDir, "nope"), infra.ExecRunner{})
				c := daemon.NewController(
					daemon.DefaultControllerConfig(configPath),
					config.NewTOMLStore(), missing, probe,
					infra.NewFileStateStore(paths.StatePath), nil, zap.NewNop())

				err := c.Run(ctx)
				Expect(err).To(MatchError(domain.ErrToolUnavailable))
			})
		})
	})

	Describe("rule evaluation", func() {
		BeforeEach(func() {
			Expect(fixtures.WriteConfig(configPath, nil,
				[2]string{"blender", "performance"},
				[2]string{"vlc", "power-saver"},
			)).To(Succeed())
		})

		It("should apply the profile of a running process once", func() {
			probe.Start("blender")
			c := newController(infra.NewFileStateStore(paths.StatePath), nil)
			c.Init(ctx)

			result := c.Tick(ctx)
			Expect(result.Outcome).To(Equal(daemon.OutcomeApplied))
			Expect(ctl.Profile()).To(Equal("performance"))

			result = c.Tick(ctx)
			Expect(result.Outcome).To(Equal(daemon.OutcomeIdle))
		})

		It("should prefer the rule declared first", func() {
			probe.Start("vlc")
			probe.Start("blender")
			c := newController(infra.NewFileStateStore(paths.StatePath), nil)
			c.Init(ctx)

			c.Tick(ctx)
			Expect(ctl.Profile()).To(Equal("performance"))
		})

		It("should fall back to the default when the process exits", func() {
			probe.Start("blender")
			c := newController(infra.NewFileStateStore(paths.StatePath), nil)
			c.Init(ctx)
			c.Tick(ctx)

			probe.Stop("blender")
			result := c.Tick(ctx)
			Expect(result.Outcome).To(Equal(daemon.OutcomeApplied))
			Expect(ctl.Profile()).To(Equal("balanced"))
		})
	})

	Describe("manual override", func() {
		It("should pause and persist the deadline across restarts", func() {
			state := infra.NewFileStateStore(paths.StatePath)
			c := newController(state, nil)
			c.Init(ctx)

			Expect(ctl.SetExternally("performance")).To(Succeed())
			result := c.Tick(ctx)
			Expect(result.Outcome).To(Equal(daemon.OutcomePauseEntered))
			Expect(ctl.Profile()).To(Equal("performance"))

			saved, err := state.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Deadline()).To(Equal(now.Add(60 * time.Minute)))

			// A fresh process picks the pause up from disk.
			now = now.Add(30 * time.Minute)
			restarted := newController(infra.NewFileStateStore(paths.StatePath), nil)
			restarted.Init(ctx)
			Expect(restarted.Tick(ctx).Outcome).To(Equal(daemon.OutcomePaused))
			Expect(ctl.Profile()).To(Equal("performance"))
		})

		It("should resume when a persisted deadline has passed", func() {
			state := infra.NewFileStateStore(paths.StatePath)
			Expect(state.Save(domain.PausedUntil(now.Add(-10 * time.Second)))).To(Succeed())
			Expect(ctl.SetExternally("performance")).To(Succeed())

			c := newController(state, nil)
			c.Init(ctx)
			result := c.Tick(ctx)

			Expect(result.Resumed).To(BeTrue())
			Expect(result.Outcome).To(Equal(daemon.OutcomeApplied))
			Expect(ctl.Profile()).To(Equal("balanced"))

			saved, err := state.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.IsPaused()).To(BeFalse())
		})

		It("should start active when the state file is corrupt", func() {
			Expect(os.MkdirAll(paths.DataDir, 0755)).To(Succeed())
			Expect(os.WriteFile(paths.StatePath, []byte("paused_until = [oops"), 0644)).To(Succeed())

			c := newController(infra.NewFileStateStore(paths.StatePath), nil)
			c.Init(ctx)

			Expect(c.Pause().IsPaused()).To(BeFalse())
			Expect(c.Tick(ctx).Outcome).To(Equal(daemon.OutcomeIdle))
		})
	})

	Describe("encrypted state backend", func() {
		It("should keep the pause across reopen", func() {
			store, err := infra.OpenEncryptedStateStore(paths.DataDir)
			Expect(err).NotTo(HaveOccurred())

			c := newController(store, nil)
			c.Init(ctx)
			Expect(ctl.SetExternally("power-saver")).To(Succeed())
			Expect(c.Tick(ctx).Outcome).To(Equal(daemon.OutcomePauseEntered))
			Expect(store.Close()).To(Succeed())

			reopened, err := infra.OpenEncryptedStateStore(paths.DataDir)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			restarted := newController(reopened, nil)
			restarted.Init(ctx)
			Expect(restarted.Pause().Deadline()).To(Equal(now.Add(60 * time.Minute)))
		})
	})

	Describe("hot reload", func() {
		var (
			watcher   *config.Watcher
			c         *daemon.Controller
			watchCtx  context.Context
			stopWatch context.CancelFunc
			tickUntil func(func(daemon.TickResult) bool) daemon.TickResult
		)

		BeforeEach(func() {
			Expect(fixtures.WriteConfig(configPath,
				map[string]string{"polling_interval": "2", "default_profile": `"power-saver"`},
				[2]string{"blender", "performance"},
			)).To(Succeed())

			watchCtx, stopWatch = context.WithCancel(context.Background())
			watcher = config.NewWatcher(configPath, zap.NewNop()).WithPollInterval(50 * time.Millisecond)
			Expect(watcher.Start(watchCtx)).To(Succeed())

			c = newController(infra.NewFileStateStore(paths.StatePath), watcher.Changes())
			c.Init(ctx)
			Expect(c.Settings().PollingInterval).To(Equal(2 * time.Second))

			tickUntil = func(done func(daemon.TickResult) bool) daemon.TickResult {
				var last daemon.TickResult
				Eventually(func() bool {
					last = c.Tick(ctx)
					return done(last)
				}, 3*time.Second, 50*time.Millisecond).Should(BeTrue())
				return last
			}
		})

		AfterEach(func() {
			watcher.Stop()
			stopWatch()
		})

		It("should keep the previous rules when the new file is invalid", func() {
			before := c.Rules()

			Expect(fixtures.WriteConfig(configPath, nil,
				[2]string{"game", "turbo"},
			)).To(Succeed())

			result := tickUntil(func(r daemon.TickResult) bool { return r.ReloadErr != nil })
			Expect(result.ReloadErr.Error()).To(ContainSubstring("turbo"))
			Expect(c.Rules()).To(Equal(before))
			Expect(c.Settings().DefaultProfile).To(Equal(domain.ProfilePowerSaver))
		})

		It("should apply a valid edit without a restart", func() {
			Expect(fixtures.WriteConfig(configPath,
				map[string]string{"polling_interval": "7"},
				[2]string{"blender", "performance"},
				[2]string{"vlc", "power-saver"},
			)).To(Succeed())

			tickUntil(func(r daemon.TickResult) bool { return r.Reloaded })
			Expect(c.Rules().Len()).To(Equal(2))
			Expect(c.Settings().PollingInterval).To(Equal(7 * time.Second))
			Expect(c.Settings().DefaultProfile).To(Equal(domain.ProfileBalanced))
		})

		It("should reload on an explicit trigger", func() {
			watcher.Trigger()

			result := c.Tick(ctx)
			Expect(result.Reloaded).To(BeTrue())
		})
	})

	Describe("process probe", func() {
		It("should detect a real process by command line", func() {
			cmd := exec.Command("sleep", "42.4242")
			Expect(cmd.Start()).To(Succeed())
			defer func() {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}()

			Expect(fixtures.WriteConfig(configPath, nil,
				[2]string{"42.4242", "performance"},
			)).To(Succeed())

			c := daemon.NewController(
				daemon.DefaultControllerConfig(configPath),
				config.NewTOMLStore(), power, infra.NewProcessProbe(),
				infra.NewFileStateStore(paths.StatePath), nil, zap.NewNop())
			c.Init(ctx)

			Expect(c.Tick(ctx).Outcome).To(Equal(daemon.OutcomeApplied))
			Expect(ctl.Profile()).To(Equal("performance"))
		})
	})
})
