package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/devportal-backend/models"
	"github.com/upb/devportal-backend/services"
	"go.uber.org/zap"
)

// MockSignInAuditRepository is a mock implementation of SignInAuditRepository
type MockSignInAuditRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.SignInAttempt
}

func (m *MockSignInAuditRepository) Insert(ctx context.Context, attempt *models.SignInAttempt) error {
	args := m.Called(ctx, attempt)
	m.mu.Lock()
	m.inserted = append(m.inserted, attempt)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockSignInAuditRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.SignInAttempt, error) {
	args := m.Called(ctx, limit, offset)
	if attempts := args.Get(0); attempts != nil {
		return attempts.([]*models.SignInAttempt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSignInAuditRepository) CountByOutcome(ctx context.Context) (map[models.SignInOutcome]int, error) {
	args := m.Called(ctx)
	if counts := args.Get(0); counts != nil {
		return counts.(map[models.SignInOutcome]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSignInAuditRepository) Inserted() []*models.SignInAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SignInAttempt(nil), m.inserted...)
}

func TestService_StartStop(t *testing.T) {
	service := NewService(new(MockSignInAuditRepository), zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)

	assert.ErrorIs(t, service.Stop(time.Second), ErrNotStarted)
	assert.Error(t, service.Start())
}

func TestService_ZeroConfigUsesDefaults(t *testing.T) {
	service := NewService(new(MockSignInAuditRepository), zap.NewNop(), Config{})
	stats := service.GetStats()
	assert.Equal(t, DefaultConfig().BufferSize, stats.BufferSize)
	assert.Equal(t, DefaultConfig().WorkerCount, stats.WorkerCount)
}

func TestService_RecordsAttempts(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, service.Record(models.NewSignInAttempt("oidc", models.SignInAccepted)))
	}

	// Stop drains the buffer
	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, repo.Inserted(), 50)
}

func TestService_ObserveSignIn(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(repo, zap.NewNop(), DefaultConfig())
	require.NoError(t, service.Start())

	attempt := models.NewSignInAttempt("oidc", models.SignInRejected).
		WithIdentity("mallory@other.com", "").
		WithReason("email domain not allowed")
	service.ObserveSignIn(context.Background(), *attempt)

	require.NoError(t, service.Stop(5*time.Second))

	inserted := repo.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, attempt.ID, inserted[0].ID)
	assert.Equal(t, models.SignInRejected, inserted[0].Outcome)
}

func TestService_RefusesEventsOutsideLifecycle(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	service := NewService(repo, zap.NewNop(), DefaultConfig())

	assert.ErrorIs(t, service.Record(models.NewSignInAttempt("oidc", models.SignInAccepted)), ErrNotStarted)

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.NotPanics(t, func() {
		err := service.Record(models.NewSignInAttempt("oidc", models.SignInAccepted))
		assert.ErrorIs(t, err, ErrNotStarted)
		service.ObserveSignIn(context.Background(), *models.NewSignInAttempt("oidc", models.SignInAccepted))
	})
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestService_BufferFull(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	release := make(chan struct{})
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	var full int
	for i := 0; i < 10; i++ {
		if err := service.Record(models.NewSignInAttempt("oidc", models.SignInAccepted)); errors.Is(err, ErrBufferFull) {
			full++
		}
	}

	// At most one in the worker and two in the buffer
	assert.GreaterOrEqual(t, full, 7)
	assert.Equal(t, int64(full), service.GetStats().Dropped)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestService_RepositoryFailureIsCounted(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Record(models.NewSignInAttempt("oidc", models.SignInError)))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Equal(t, int64(1), service.GetStats().Failed)
}

func TestService_ConcurrentObservers(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(repo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				service.ObserveSignIn(context.Background(), *models.NewSignInAttempt("oidc", models.SignInAccepted))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, repo.Inserted(), 100)
}

func TestService_List(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	want := []*models.SignInAttempt{models.NewSignInAttempt("oidc", models.SignInAccepted)}
	repo.On("ListRecent", mock.Anything, 20, 40).Return(want, nil)

	service := NewService(repo, zap.NewNop(), DefaultConfig())
	got, err := service.List(context.Background(), 20, 40)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestService_ListError(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("ListRecent", mock.Anything, 50, 0).Return(nil, errors.New("connection reset"))

	service := NewService(repo, zap.NewNop(), DefaultConfig())
	_, err := service.List(context.Background(), 50, 0)

	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestService_Summary(t *testing.T) {
	repo := new(MockSignInAuditRepository)
	repo.On("CountByOutcome", mock.Anything).Return(map[models.SignInOutcome]int{
		models.SignInAccepted: 3,
		models.SignInRejected: 1,
	}, nil).Once()
	repo.On("CountByOutcome", mock.Anything).Return(nil, errors.New("db down")).Once()

	service := NewService(repo, zap.NewNop(), DefaultConfig())

	counts, err := service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.SignInAccepted])

	_, err = service.Summary(context.Background())
	assert.True(t, services.IsInternalError(err))
}
