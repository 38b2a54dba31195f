package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdcast/internal/driver"
	"github.com/rewired-gh/crowdcast/internal/logger"
	"github.com/rewired-gh/crowdcast/internal/metrics"
	"github.com/rewired-gh/crowdcast/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a batch every batch.interval until stopped",
	Long: `Runs a batch immediately and then on every tick of batch.interval. Serves
Prometheus metrics when metrics.enabled is set and reports batch failures,
recoveries and summaries to Telegram when telegram.enabled is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server stopped: %v", err)
			}
		}()
	}

	p, err := newPipeline(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("Failed to close publishers: %v", err)
		}
	}()

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("initializing Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	logger.Info("Starting congestion service (interval: %v, horizon: %d days, places: %d, storage: %s)",
		cfg.Batch.Interval, cfg.Batch.HorizonDays, p.reg.Len(), cfg.Storage.Driver)

	ticker := time.NewTicker(cfg.Batch.Interval)
	defer ticker.Stop()

	tracker := &failureTracker{now: time.Now}
	if telegramClient != nil {
		tracker.notifier = telegramClient
	}

	cycle := func() {
		summary, err := p.runBatch(ctx, driver.Request{})
		if err == nil && summary.Count(driver.StatusFailed) > 0 && summary.Count(driver.StatusWritten) == 0 {
			err = fmt.Errorf("all %d processed locations failed", summary.Count(driver.StatusFailed))
		}
		if ctx.Err() != nil {
			return
		}
		tracker.handle(err)
		if err == nil && telegramClient != nil && cfg.Telegram.Summary {
			if sendErr := telegramClient.SendSummary(summary); sendErr != nil {
				logger.Warn("Failed to send summary to Telegram: %v", sendErr)
			}
		}
	}

	// Run initial batch immediately
	logger.Debug("Running initial batch")
	cycle()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil

		case <-ticker.C:
			logger.Debug("Starting scheduled batch")
			cycle()
		}
	}
}

// notifier is the part of *telegram.Client used for failure reporting.
type notifier interface {
	SendError(err error, consecutive int) error
	SendRecovery(failures int, downtime time.Duration) error
}

// failureTracker counts consecutive failed batches. It notifies on the first
// failure of a streak and again when a batch succeeds after it.
type failureTracker struct {
	notifier     notifier
	now          func() time.Time
	consecutive  int
	failingSince time.Time
}

func (t *failureTracker) handle(err error) {
	if err != nil {
		t.consecutive++
		logger.Error("Batch failed: %v", err)
		if t.consecutive == 1 {
			t.failingSince = t.now()
			if t.notifier != nil {
				if sendErr := t.notifier.SendError(err, t.consecutive); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		}
		return
	}

	if t.consecutive > 0 {
		logger.Info("Batches recovered after %d failures", t.consecutive)
		if t.notifier != nil {
			if sendErr := t.notifier.SendRecovery(t.consecutive, t.now().Sub(t.failingSince)); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
	}
	t.consecutive = 0
}

var _ notifier = (*telegram.Client)(nil)
