/**
 * @description
 * Cron scheduler for the wheel's periodic jobs: token data refresh and the stale
 * extraction sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type SchedulerConfig struct {
	TokenRefreshSchedule    string
	StaleExtractionSchedule string
	StaleExtractionAge      time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	refresher *TokenRefresher
	service   *Service
	logger    *slog.Logger
	config    SchedulerConfig
}

func NewScheduler(service *Service, refresher *TokenRefresher, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		refresher: refresher,
		service:   service,
		logger:    logger,
		config:    cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. Jobs with an empty schedule
// are skipped.
func (s *Scheduler) Start() {
	if s.config.TokenRefreshSchedule != "" && s.refresher != nil {
		if _, err := s.cron.AddFunc(s.config.TokenRefreshSchedule, s.RefreshTokens); err != nil {
			s.logger.Error("failed to schedule token refresh job", "error", err)
		} else {
			s.logger.Info("scheduled token refresh job", "schedule", s.config.TokenRefreshSchedule)
		}
	}

	if s.config.StaleExtractionSchedule != "" && s.service != nil {
		if _, err := s.cron.AddFunc(s.config.StaleExtractionSchedule, s.SweepStaleExtractions); err != nil {
			s.logger.Error("failed to schedule stale extraction sweep", "error", err)
		} else {
			s.logger.Info("scheduled stale extraction sweep", "schedule", s.config.StaleExtractionSchedule, "max_age", s.config.StaleExtractionAge)
		}
	}

	s.cron.Start()
}

// RefreshTokens is the token refresh job.
func (s *Scheduler) RefreshTokens() {
	s.logger.Info("starting token refresh job")
	if err := s.refresher.RefreshAll(context.Background()); err != nil {
		s.logger.Error("token refresh job failed", "error", err)
	}
}

// SweepStaleExtractions is the stale extraction job.
func (s *Scheduler) SweepStaleExtractions() {
	s.logger.Info("starting stale extraction sweep")
	result, err := s.service.SweepStaleExtractions(context.Background(), s.config.StaleExtractionAge)
	if err != nil {
		s.logger.Error("stale extraction sweep failed", "error", err)
		return
	}
	s.logger.Info("stale extraction sweep finished", "processed", result.Processed, "swept", result.Swept, "skipped", result.Skipped, "errors", result.Errors)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
