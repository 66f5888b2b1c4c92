package services

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported by the refresher
const HealthService = "roadpulse"

// RefreshTarget is implemented by *incident.Engine
type RefreshTarget interface {
	Ping(ctx context.Context) error
	Republish(ctx context.Context)
}

// PeriodicRefreshService pings the incident store on an interval, keeps the
// gRPC health status in step with it, and re-broadcasts the active incidents
// so idle subscribers stay current.
type PeriodicRefreshService struct {
	target   RefreshTarget
	health   *health.Server
	interval time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a new PeriodicRefreshService. hs may be nil.
func NewPeriodicRefreshService(target RefreshTarget, hs *health.Server, interval time.Duration) *PeriodicRefreshService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PeriodicRefreshService{
		target:   target,
		health:   hs,
		interval: interval,
	}
}

// StartPeriodicRefresh runs one check immediately and then one per interval
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	ctx = logging.EnsureLogger(ctx)

	logging.Infow(ctx, "services: Starting periodic refresh", "interval", p.interval)
	go p.refreshLoop(ctx, p.stopChan)
	return nil
}

// Stop ends the refresh loop
func (p *PeriodicRefreshService) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopChan)
}

// IsRunning returns whether periodic refresh is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			stack, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "services: Periodic refresh panic recovered",
				"error", r, "error.stack_trace", stack.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "services: Periodic refresh stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "services: Periodic refresh stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// refresh reports whether the store answered
func (p *PeriodicRefreshService) refresh(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.target.Ping(pingCtx); err != nil {
		logging.Warnw(ctx, "services: Incident store unreachable", "error", err)
		p.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}

	p.setStatus(healthpb.HealthCheckResponse_SERVING)
	p.target.Republish(ctx)
	return true
}

func (p *PeriodicRefreshService) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	if p.health != nil {
		p.health.SetServingStatus(HealthService, s)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// HealthzHandler answers 200 when the incident store responds to a ping
func HealthzHandler(target RefreshTarget) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.EnsureLogger(r.Context())
		if err := target.Ping(ctx); err != nil {
			logging.Warnw(ctx, "services: Health check failed", "error", err)
			writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
				Error:  "unavailable",
				Detail: "Cannot reach database",
			})
			return
		}
		writeJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok", DB: "reachable"})
	}
}
