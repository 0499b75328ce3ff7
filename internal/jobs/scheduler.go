package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"pulseboard/internal/config"
)

const geoIPCheckInterval = 10 * time.Minute

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	retentionJob   *RetentionJob
	geoIPReloadJob *GeoIPReloadJob

	// Tickers for each job type
	retentionTicker *time.Ticker
	geoIPTicker     *time.Ticker

	wg sync.WaitGroup
}

func NewScheduler(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
	}

	s.retentionJob = NewRetentionJob(dbManager, logger, cfg.RawDataRetentionDays)
	s.geoIPReloadJob = NewGeoIPReloadJob(cfg.GeoDBPath, logger)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	if s.retentionJob.Enabled() {
		s.startRetentionJob()
	} else {
		s.logger.Info("Raw data retention disabled, keeping all tracking rows")
	}
	s.startGeoIPReloadJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startRetentionJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	s.logger.Info("Starting retention job", slog.Duration("interval", interval))
	s.retentionTicker = time.NewTicker(interval)

	run := func() error { return s.retentionJob.Run(s.ctx) }

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("Running initial retention cleanup...")
		s.executeJobSafely("retention", run)

		for {
			select {
			case <-s.retentionTicker.C:
				s.executeJobSafely("retention", run)
			case <-s.ctx.Done():
				s.logger.Info("Retention job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startGeoIPReloadJob() {
	s.logger.Info("Starting GeoIP reload job", slog.Duration("interval", geoIPCheckInterval))
	s.geoIPTicker = time.NewTicker(geoIPCheckInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.executeJobSafely("geoip_reload", s.geoIPReloadJob.Run)

		for {
			select {
			case <-s.geoIPTicker.C:
				s.executeJobSafely("geoip_reload", s.geoIPReloadJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("GeoIP reload job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.retentionTicker != nil {
		s.retentionTicker.Stop()
	}
	if s.geoIPTicker != nil {
		s.geoIPTicker.Stop()
	}

	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunRetention allows manual triggering of the retention cleanup
func (s *Scheduler) RunRetention(ctx context.Context) error {
	return s.retentionJob.Run(ctx)
}
