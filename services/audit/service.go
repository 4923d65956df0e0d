package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/devportal-backend/models"
	"github.com/upb/devportal-backend/repositories"
	"github.com/upb/devportal-backend/services"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when events arrive before Start or after Stop
	ErrNotStarted = errors.New("audit service not started")

	// ErrBufferFull is returned when the event buffer cannot take another event
	ErrBufferFull = errors.New("audit event buffer full")
)

// Service records sign-in attempts asynchronously. Recording never blocks the login path.
type Service struct {
	repo        repositories.SignInAuditRepository
	logger      *zap.Logger
	eventChan   chan *models.SignInAttempt
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
	dropped     atomic.Int64
	failed      atomic.Int64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service
func NewService(repo repositories.SignInAuditRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.SignInAttempt, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.stopped {
		return fmt.Errorf("audit service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop refuses new events and waits for pending ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an attempt without blocking
func (s *Service) Record(attempt *models.SignInAttempt) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- attempt:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("provider", attempt.Provider),
			zap.String("outcome", string(attempt.Outcome)))
		return ErrBufferFull
	}
}

// ObserveSignIn implements auth.SignInObserver
func (s *Service) ObserveSignIn(_ context.Context, attempt models.SignInAttempt) {
	if err := s.Record(&attempt); err != nil && !errors.Is(err, ErrBufferFull) {
		s.logger.Debug("sign-in attempt not recorded", zap.Error(err))
	}
}

// List returns recent attempts from the repository, newest first
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.SignInAttempt, error) {
	attempts, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list sign-in attempts", err)
	}
	return attempts, nil
}

// Summary counts stored attempts per outcome
func (s *Service) Summary(ctx context.Context) (map[models.SignInOutcome]int, error) {
	counts, err := s.repo.CountByOutcome(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to count sign-in attempts", err)
	}
	return counts, nil
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for attempt := range s.eventChan {
		if err := s.process(attempt); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("attempt_id", attempt.ID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) process(attempt *models.SignInAttempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, attempt); err != nil {
		return fmt.Errorf("failed to insert sign-in attempt: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}
