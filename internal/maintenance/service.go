// Package maintenance runs the periodic recovery and cleanup loop. One
// service instance drives recovery per process; the instance owns its
// lifecycle state so multiple instances can coexist in tests.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clipdock/clipdock/internal/upload"
)

// Maintainer is the maintenance entry point of the upload layer.
type Maintainer interface {
	RunMaintenance(ctx context.Context, uploadRetentionHours int) (*upload.MaintenanceReport, error)
}

// Status reports whether the loop is running and at what interval.
type Status struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
}

// metrics holds the counters published by the service.
type metrics struct {
	runs        prometheus.Counter
	runFailures prometheus.Counter
	recovered   prometheus.Counter
	failed      prometheus.Counter
	quarantined prometheus.Counter
	expired     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_maintenance_runs_total",
			Help: "Completed maintenance passes.",
		}),
		runFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_maintenance_run_failures_total",
			Help: "Maintenance passes that returned an error.",
		}),
		recovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_orphans_recovered_total",
			Help: "Orphaned video files reintegrated into the metadata store.",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_orphans_failed_total",
			Help: "Orphan recovery attempts that did not produce a record.",
		}),
		quarantined: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_orphans_quarantined_total",
			Help: "Invalid files moved to the quarantine directory.",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipdock_upload_states_expired_total",
			Help: "Terminal upload state records removed by retention cleanup.",
		}),
	}
}

// Service periodically invokes the maintenance routine. Start is
// idempotent; a running service ignores further Start calls.
type Service struct {
	maintainer     Maintainer
	interval       time.Duration
	retentionHours int
	logger         *slog.Logger
	metrics        *metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates a maintenance service. Counters register against
// the given registerer so test instances don't collide.
func NewService(maintainer Maintainer, interval time.Duration, retentionHours int, reg prometheus.Registerer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{
		maintainer:     maintainer,
		interval:       interval,
		retentionHours: retentionHours,
		logger:         logger,
		metrics:        newMetrics(reg),
	}
}

// Start launches the loop. An immediate pass runs first, then one per
// interval. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Debug("maintenance service already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx)
	s.logger.Info("maintenance service started",
		slog.Duration("interval", s.interval),
	)
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	report, err := s.maintainer.RunMaintenance(ctx, s.retentionHours)
	if err != nil {
		s.metrics.runFailures.Inc()
		s.logger.Error("maintenance pass failed",
			slog.String("error", err.Error()),
		)
		return
	}
	s.observe(report)
}

func (s *Service) observe(report *upload.MaintenanceReport) {
	s.metrics.runs.Inc()
	s.metrics.recovered.Add(float64(report.Recovered))
	s.metrics.failed.Add(float64(report.Failed))
	s.metrics.quarantined.Add(float64(report.Quarantined))
	s.metrics.expired.Add(float64(report.ExpiredUploads))

	if report.Recovered > 0 || report.Quarantined > 0 || report.ExpiredUploads > 0 {
		s.logger.Info("maintenance pass finished",
			slog.Int("recovered", report.Recovered),
			slog.Int("failed", report.Failed),
			slog.Int("quarantined", report.Quarantined),
			slog.Int("expired_uploads", report.ExpiredUploads),
		)
	}
}

// Stop halts the loop and waits for an in-flight pass to finish.
// Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("maintenance service stopped")
}

// ForceRecoveryCheck runs one maintenance pass synchronously, outside
// the timer. It works whether or not the loop is running.
func (s *Service) ForceRecoveryCheck(ctx context.Context) (*upload.MaintenanceReport, error) {
	report, err := s.maintainer.RunMaintenance(ctx, s.retentionHours)
	if err != nil {
		s.metrics.runFailures.Inc()
		return nil, err
	}
	s.observe(report)
	return report, nil
}

// GetStatus reports the loop state.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Interval: s.interval}
}
