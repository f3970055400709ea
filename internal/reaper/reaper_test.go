package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/metrics"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

type stubExpirer struct {
	pending  []orders.Order
	listErr  error
	failFor  map[string]error
	paid     map[string]bool
	expired  []string
	listArgs []int
}

func (s *stubExpirer) ExpiredPending(_ context.Context, limit int) ([]orders.Order, error) {
	s.listArgs = append(s.listArgs, limit)
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *stubExpirer) ExpireIfUnpaid(_ context.Context, orderID string) (bool, error) {
	if err := s.failFor[orderID]; err != nil {
		return false, err
	}
	if s.paid[orderID] {
		return false, nil
	}
	s.expired = append(s.expired, orderID)
	return true, nil
}

func pendingOrders(ids ...string) []orders.Order {
	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, orders.Order{ID: id, Status: orders.StatusPending})
	}
	return out
}

func TestExpiryJob_SweepCollectsFailures(t *testing.T) {
	stub := &stubExpirer{
		pending: pendingOrders("o1", "o2", "o3", "o4"),
		failFor: map[string]error{"o2": errors.New("boom")},
		paid:    map[string]bool{"o3": true},
	}
	job, err := NewExpiryJob(stub, logger.Nop(), 10)
	require.NoError(t, err)

	res, err := job.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order o2")
	assert.Equal(t, ExpiryResult{Scanned: 4, Expired: 2, Failed: 1}, res)
	assert.Equal(t, []string{"o1", "o4"}, stub.expired)
}

func TestExpiryJob_BatchLimit(t *testing.T) {
	stub := &stubExpirer{pending: pendingOrders("o1", "o2", "o3")}
	job, err := NewExpiryJob(stub, nil, 2)
	require.NoError(t, err)

	res, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, []int{2}, stub.listArgs)
}

func TestExpiryJob_ListError(t *testing.T) {
	job, err := NewExpiryJob(&stubExpirer{listErr: errors.New("dynamo down")}, nil, 0)
	require.NoError(t, err)
	_, err = job.Sweep(context.Background())
	require.Error(t, err)

	_, err = NewExpiryJob(nil, nil, 0)
	assert.Error(t, err)
}

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

func TestServiceRunOnce_RecordsMetrics(t *testing.T) {
	stub := &stubExpirer{
		pending: pendingOrders("o1", "o2"),
		failFor: map[string]error{"o2": errors.New("boom")},
	}
	job, _ := NewExpiryJob(stub, nil, 10)
	reg := prometheus.NewRegistry()
	lock := &fakeLock{}
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Job: job, Lock: lock, Metrics: metrics.NewJobMetrics(reg)})
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["job_failure_total"])
	assert.True(t, names["job_items_processed_total"])
	assert.False(t, names["job_success_total"])
}

func TestServiceRunOnce_SkipsWhenLocked(t *testing.T) {
	stub := &stubExpirer{pending: pendingOrders("o1")}
	job, _ := NewExpiryJob(stub, nil, 10)
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Job: job, Lock: &fakeLock{held: true}})
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpiryResult{}, res)
	assert.Empty(t, stub.expired)
	assert.Empty(t, stub.listArgs)
}

func TestServiceRun_StopsOnCancel(t *testing.T) {
	stub := &stubExpirer{}
	job, _ := NewExpiryJob(stub, nil, 10)
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Job: job, Interval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, stub.listArgs)
}

type memoryLockStore struct {
	mu    sync.Mutex
	owner map[string]string
}

func (m *memoryLockStore) TryLock(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owner[key]; ok {
		return false, nil
	}
	m.owner[key] = owner
	return true, nil
}

func (m *memoryLockStore) Unlock(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner[key] == owner {
		delete(m.owner, key)
	}
	return nil
}

func TestRedisLock_ExclusiveOwnership(t *testing.T) {
	store := &memoryLockStore{owner: map[string]string{}}
	a, err := NewRedisLock(store, "sneakers:lock:payment-expiry", 0)
	require.NoError(t, err)
	b, err := NewRedisLock(store, "sneakers:lock:payment-expiry", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Release(ctx), "releasing an unowned lock is a no-op")

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)

	_, err = NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(store, "", 0)
	assert.Error(t, err)
}
