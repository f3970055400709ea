package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Job      *ExpiryJob
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Interval time.Duration
}

// Service runs the expiry sweep on a fixed cadence, or once per scheduled
// invocation when deployed as a function.
type Service struct {
	log      *logger.Logger
	job      *ExpiryJob
	lock     Lock
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Job == nil {
		return nil, errors.New("expiry job required")
	}
	lock := params.Lock
	if lock == nil {
		lock = noLock{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		log:      params.Logger,
		job:      params.Job,
		lock:     lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error(ctx, "expiry sweep failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "reaper context cancelled")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error(ctx, "expiry sweep failed", err)
			}
		}
	}
}

// RunOnce performs a single locked sweep. A sweep skipped because another
// instance holds the lock returns a zero result and no error.
func (s *Service) RunOnce(ctx context.Context) (ExpiryResult, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return ExpiryResult{}, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.log.Info(ctx, "another reaper instance is running; skipping this cycle")
		return ExpiryResult{}, nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.log.Error(ctx, "failed to release reaper lock", relErr)
		}
	}()

	name := s.job.Name()
	jobCtx := s.log.WithFields(ctx, map[string]any{"job": name, "event": "reaper.job"})
	start := time.Now()
	res, err := s.job.Sweep(jobCtx)
	duration := time.Since(start)

	s.metrics.ObserveDuration(name, duration)
	s.metrics.AddItems(name, res.Expired)
	jobCtx = s.log.WithFields(jobCtx, map[string]any{
		"duration_ms": duration.Milliseconds(),
		"scanned":     res.Scanned,
		"expired":     res.Expired,
		"failed":      res.Failed,
	})
	if err != nil {
		s.metrics.IncFailure(name)
		return res, err
	}
	s.metrics.IncSuccess(name)
	s.log.Info(jobCtx, "expiry sweep completed")
	return res, nil
}
