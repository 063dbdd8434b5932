// Package scheduler triggers unattended full scans on a cron expression.
package scheduler

import (
	"context"

	"avitoscan/internal/scanner"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Scheduler struct {
	cron    *cron.Cron
	scanner *scanner.Scanner
	logger  *zap.Logger
}

func New(sc *scanner.Scanner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		scanner: sc,
		logger:  logger,
	}
}

// Start registers the scan job and launches the cron loop. A trigger that
// fires while a scan is still running is dropped by the state-machine guard.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled scan triggered")
		if err := s.scanner.Run(context.Background(), scanner.PhaseFull); err == scanner.ErrAlreadyRunning {
			s.logger.Info("scheduled scan skipped, previous scan still running")
		} else if err != nil {
			s.logger.Error("scheduled scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scan scheduler started", zap.String("cron", spec))
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
