package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeTarget struct {
	mu          sync.Mutex
	err         error
	pings       int
	republishes int
}

func (f *fakeTarget) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.err
}

func (f *fakeTarget) Republish(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.republishes++
}

func (f *fakeTarget) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTarget) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings, f.republishes
}

func servingStatus(t *testing.T, hs *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestPeriodicRefresh_TracksStore(t *testing.T) {
	target := &fakeTarget{}
	hs := health.NewServer()
	refresher := NewPeriodicRefreshService(target, hs, time.Hour)
	ctx := logging.With(context.Background(), logging.NewDevLogger())

	assert.True(t, refresher.refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, hs))
	_, republishes := target.counts()
	assert.Equal(t, 1, republishes)

	target.setErr(errors.New("database is locked"))
	assert.False(t, refresher.refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, hs))
	_, republishes = target.counts()
	assert.Equal(t, 1, republishes)
}

func TestPeriodicRefresh_StartStop(t *testing.T) {
	target := &fakeTarget{}
	refresher := NewPeriodicRefreshService(target, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, refresher.StartPeriodicRefresh(ctx))
	require.NoError(t, refresher.StartPeriodicRefresh(ctx))
	assert.True(t, refresher.IsRunning())

	assert.Eventually(t, func() bool {
		pings, _ := target.counts()
		return pings >= 3
	}, time.Second, 5*time.Millisecond)

	refresher.Stop()
	refresher.Stop()
	assert.False(t, refresher.IsRunning())
}

func TestPeriodicRefresh_StartsOnBareContext(t *testing.T) {
	target := &fakeTarget{}
	target.setErr(errors.New("database is locked"))
	hs := health.NewServer()
	refresher := NewPeriodicRefreshService(target, hs, 10*time.Millisecond)

	// Same context shape as the server's main before prefab takes over
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NotPanics(t, func() { require.NoError(t, refresher.StartPeriodicRefresh(ctx)) })
	defer refresher.Stop()

	assert.Eventually(t, func() bool {
		pings, _ := target.counts()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, hs))
}

func TestHealthzHandler(t *testing.T) {
	target := &fakeTarget{}
	h := HealthzHandler(target)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","db":"reachable"}`, rec.Body.String())

	target.setErr(errors.New("connection refused"))
	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Cannot reach database", decode[errorResponse](t, rec).Detail)
}
