// Command agent runs the nyxmon monitoring agent: it loads (and
// optionally seeds) a store, registers one executor per check kind,
// and wires the scheduler, runner, bus, handlers, cleaner, and
// notifier together before blocking until a shutdown signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/bus"
	"github.com/nyxmon-go/agent/cleaner"
	"github.com/nyxmon-go/agent/executors"
	"github.com/nyxmon-go/agent/executors/dnscheck"
	"github.com/nyxmon-go/agent/executors/httpcheck"
	"github.com/nyxmon-go/agent/executors/imapcheck"
	"github.com/nyxmon-go/agent/executors/jsonhttp"
	"github.com/nyxmon-go/agent/executors/jsonmetrics"
	"github.com/nyxmon-go/agent/executors/smtpcheck"
	"github.com/nyxmon-go/agent/executors/sshjson"
	"github.com/nyxmon-go/agent/executors/tcpcheck"
	"github.com/nyxmon-go/agent/handlers"
	"github.com/nyxmon-go/agent/interceptors"
	"github.com/nyxmon-go/agent/iobridge"
	"github.com/nyxmon-go/agent/notifier"
	"github.com/nyxmon-go/agent/runner"
	"github.com/nyxmon-go/agent/scheduler"
	"github.com/nyxmon-go/agent/store"
	"github.com/nyxmon-go/agent/store/memory"
	"github.com/nyxmon-go/agent/store/sqlite"
)

const shutdownGrace = 30 * time.Second

// exit codes, per spec §7: 0 clean shutdown, 1 configuration error,
// 2 startup failure (store open, reconcile, seed load).
const (
	exitOK        = 0
	exitConfigErr = 1
	exitStartErr  = 2
)

type config struct {
	dbPath          string
	pollInterval    time.Duration
	cleanupInterval time.Duration
	retentionPeriod time.Duration
	batchSize       int
	disableCleaner  bool
	logLevel        string
	enableTelegram  bool
	seedPath        string
	maxInFlight     int64
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg := config{}

	fs.StringVar(&cfg.dbPath, "db", "", "path to the sqlite database file (required; \"memory\" selects an in-process store)")
	fs.DurationVar(&cfg.pollInterval, "interval", scheduler.DefaultPollInterval, "scheduler poll interval")
	fs.DurationVar(&cfg.cleanupInterval, "cleanup-interval", cleaner.DefaultCleanupInterval, "retention cleanup interval")
	fs.DurationVar(&cfg.retentionPeriod, "retention-period", cleaner.DefaultRetentionPeriod, "how long a result is kept before it is eligible for deletion")
	fs.IntVar(&cfg.batchSize, "batch-size", cleaner.DefaultBatchSize, "max results deleted per cleanup batch")
	fs.BoolVar(&cfg.disableCleaner, "disable-cleaner", false, "disable the retention cleaner entirely")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.enableTelegram, "enable-telegram", false, "enable the telegram notification sink (requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID)")
	fs.StringVar(&cfg.seedPath, "seed", os.Getenv("NYXMON_SEED_FILE"), "optional YAML file of services/checks to upsert at startup")
	fs.Int64Var(&cfg.maxInFlight, "max-in-flight", 32, "max checks executed concurrently per batch")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.dbPath == "" {
		return cfg, errors.New("agent: --db is required")
	}
	return cfg, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("agent: invalid --log-level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func buildStore(ctx context.Context, cfg config) (store.Store, error) {
	if cfg.dbPath == "memory" {
		return memory.New(), nil
	}
	return sqlite.Open(ctx, cfg.dbPath)
}

func buildRegistry(logger *zap.Logger) *executors.Registry {
	reg := executors.NewRegistry()
	chain := []interceptors.Interceptor{interceptors.BasicLogger(logger)}

	register := func(kind nyxmon.Kind, factory executors.Factory) {
		reg.Register(kind, func(res *executors.Resources) executors.Executor {
			return interceptors.Chain(chain, factory(res))
		})
	}
	registerStateless := func(kind nyxmon.Kind, factory func() executors.Executor) {
		register(kind, func(*executors.Resources) executors.Executor { return factory() })
	}

	register(nyxmon.KindHTTP, httpcheck.New)
	register(nyxmon.KindJSONHTTP, jsonhttp.New)
	register(nyxmon.KindJSONMetrics, jsonmetrics.New)
	registerStateless(nyxmon.KindDNS, dnscheck.New)
	registerStateless(nyxmon.KindTCP, tcpcheck.New)
	registerStateless(nyxmon.KindSMTP, smtpcheck.New)
	registerStateless(nyxmon.KindIMAP, imapcheck.New)
	registerStateless(nyxmon.KindCustomSSHJSON, sshjson.New)

	return reg
}

// seedFile is the on-disk shape accepted by --seed/NYXMON_SEED_FILE,
// per SPEC_FULL.md's supplemented bootstrap feature.
type seedFile struct {
	Services []struct {
		ServiceID string `yaml:"service_id"`
		Name      string `yaml:"name"`
	} `yaml:"services"`
	Checks []struct {
		ID              string         `yaml:"id"`
		ServiceID       string         `yaml:"service_id"`
		Name            string         `yaml:"name"`
		Kind            string         `yaml:"kind"`
		Target          string         `yaml:"target"`
		IntervalSeconds int64          `yaml:"interval_seconds"`
		Disabled        bool           `yaml:"disabled"`
		Data            map[string]any `yaml:"data"`
	} `yaml:"checks"`
}

func applySeed(ctx context.Context, st store.Store, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("agent: read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("agent: parse seed file: %w", err)
	}

	for _, svc := range seed.Services {
		if err := st.UpsertService(ctx, &nyxmon.Service{ServiceID: svc.ServiceID, Name: svc.Name}); err != nil {
			return fmt.Errorf("agent: seed service %s: %w", svc.ServiceID, err)
		}
	}
	for _, c := range seed.Checks {
		check := &nyxmon.Check{
			ID:              c.ID,
			ServiceID:       c.ServiceID,
			Name:            c.Name,
			Kind:            nyxmon.Kind(c.Kind),
			Target:          c.Target,
			IntervalSeconds: c.IntervalSeconds,
			Disabled:        c.Disabled,
			Data:            c.Data,
			Status:          nyxmon.CheckIdle,
		}
		if err := st.UpsertCheck(ctx, check); err != nil {
			return fmt.Errorf("agent: seed check %s: %w", c.ID, err)
		}
	}
	return nil
}

func buildNotifier(b *bus.Bus, logger *zap.Logger, enableTelegram bool) error {
	sinks := []notifier.Sink{notifier.LoggingSink(logger)}

	if enableTelegram {
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		chatIDRaw := os.Getenv("TELEGRAM_CHAT_ID")
		if token == "" || chatIDRaw == "" {
			return errors.New("agent: --enable-telegram requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
		}
		chatID, err := strconv.ParseInt(chatIDRaw, 10, 64)
		if err != nil {
			return fmt.Errorf("agent: invalid TELEGRAM_CHAT_ID: %w", err)
		}
		sink, err := notifier.NewTelegramSink(token, chatID, 10*time.Second)
		if err != nil {
			return fmt.Errorf("agent: build telegram sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	notifier.New(b, logger, sinks...)
	return nil
}

func run() int {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigErr
	}

	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigErr
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("agent: open store failed", zap.Error(err))
		return exitStartErr
	}
	defer st.Close()

	if err := applySeed(ctx, st, cfg.seedPath); err != nil {
		logger.Error("agent: seed failed", zap.Error(err))
		return exitStartErr
	}

	reconciled, err := st.Reconcile(ctx)
	if err != nil {
		logger.Error("agent: startup reconcile failed", zap.Error(err))
		return exitStartErr
	}
	if reconciled > 0 {
		logger.Warn("agent: reconciled checks stuck in processing", zap.Int("count", reconciled))
	}

	b := bus.New(logger)
	reg := buildRegistry(logger)
	r := runner.New(reg, cfg.maxInFlight, logger)
	bridge := iobridge.New(iobridge.DefaultWeight)
	handlers.New(st, r, b, handlers.WithBridge(bridge))

	if err := buildNotifier(b, logger, cfg.enableTelegram); err != nil {
		logger.Error("agent: notifier setup failed", zap.Error(err))
		return exitConfigErr
	}

	sched := scheduler.New(st, b, cfg.pollInterval, logger)

	var clean *cleaner.Cleaner
	if !cfg.disableCleaner {
		clean = cleaner.New(st, cfg.cleanupInterval, cfg.retentionPeriod, cfg.batchSize, logger)
	}

	done := make(chan error, 2)
	go func() { done <- sched.Run(ctx) }()
	if clean != nil {
		go func() { done <- clean.Run(ctx) }()
	} else {
		done <- nil
	}

	logger.Info("agent: started", zap.String("db", cfg.dbPath), zap.Duration("poll_interval", cfg.pollInterval))

	<-ctx.Done()
	logger.Info("agent: shutdown signal received, draining")

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	waitFor := 2
	if clean == nil {
		waitFor = 1
	}
	for i := 0; i < waitFor; i++ {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("agent: component exited with error", zap.Error(err))
			}
		case <-graceCtx.Done():
			logger.Warn("agent: shutdown grace period exceeded")
			return exitOK
		}
	}

	logger.Info("agent: shutdown complete")
	return exitOK
}

func main() {
	os.Exit(run())
}
