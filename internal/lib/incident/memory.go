package incident

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
)

// MemoryRepository is a process-local Repository, used for tests and for
// deployments that do not need incidents to survive a restart.
type MemoryRepository struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{incidents: make(map[string]*Incident)}
}

func (m *MemoryRepository) Create(ctx context.Context, incident Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.incidents[incident.ID]; exists {
		return errs.Conflict("Create", "incident %s already exists", incident.ID)
	}
	stored := incident.Clone()
	m.incidents[incident.ID] = &stored
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, errs.NotFound("Get", "incident %s not found", id)
	}
	return inc.Clone(), nil
}

func (m *MemoryRepository) ListActive(ctx context.Context) ([]Incident, error) {
	return m.list(func(inc *Incident) bool { return inc.Active() }), nil
}

func (m *MemoryRepository) ListActiveByType(ctx context.Context, incidentType string) ([]Incident, error) {
	return m.list(func(inc *Incident) bool {
		return inc.Active() && inc.Type == incidentType
	}), nil
}

func (m *MemoryRepository) list(keep func(*Incident) bool) []Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if keep(inc) {
			out = append(out, inc.Clone())
		}
	}
	slices.SortFunc(out, func(a, b Incident) int {
		if c := a.ReportedAt.Compare(b.ReportedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (m *MemoryRepository) AddReporter(ctx context.Context, id, reporter string, expectedTimes int) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, errs.NotFound("AddReporter", "incident %s not found", id)
	}
	if inc.Times != expectedTimes {
		return Incident{}, errs.Conflict("AddReporter", "incident %s has times=%d, expected %d", id, inc.Times, expectedTimes)
	}
	if inc.HasReporter(reporter) {
		return Incident{}, errs.Conflict("AddReporter", "reporter already recorded on incident %s", id)
	}

	inc.Reporters = append(inc.Reporters, reporter)
	inc.Times++
	return inc.Clone(), nil
}

func (m *MemoryRepository) MarkCleared(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return errs.NotFound("MarkCleared", "incident %s not found", id)
	}
	inc.StatusCleared = true
	return nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
