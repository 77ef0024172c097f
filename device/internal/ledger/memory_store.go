package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
)

// MemoryStore - журнал в памяти, когда Redis не настроен
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*orchestrator.Report
	order   []string
	pending map[string]struct{}
	recent  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]*orchestrator.Report),
		pending: make(map[string]struct{}),
		recent:  DefaultRecent,
	}
}

func (m *MemoryStore) Save(ctx context.Context, report *orchestrator.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := report.Session.ID
	r := *report
	if _, exists := m.reports[id]; !exists {
		m.order = append(m.order, id)
	}
	m.reports[id] = &r

	if report.Retryable() {
		m.pending[id] = struct{}{}
	} else {
		delete(m.pending, id)
	}

	// вытесняем самые старые, кроме ожидающих загрузки
	for len(m.order) > m.recent {
		oldest := m.order[0]
		m.order = m.order[1:]
		if _, keep := m.pending[oldest]; !keep {
			delete(m.reports, oldest)
		}
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*orchestrator.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	cp := *r
	return &cp, nil
}

// Recent возвращает сессии от новых к старым
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*orchestrator.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	reports := make([]*orchestrator.Report, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(reports) < limit; i-- {
		cp := *m.reports[m.order[i]]
		reports = append(reports, &cp)
	}
	return reports, nil
}

func (m *MemoryStore) Pending(ctx context.Context) ([]*orchestrator.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]*orchestrator.Report, 0, len(m.pending))
	for id := range m.pending {
		cp := *m.reports[id]
		reports = append(reports, &cp)
	}
	sortByStart(reports)
	return reports, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(m.pending, sessionID)
	return nil
}

func sortByStart(reports []*orchestrator.Report) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Session.Number < reports[j].Session.Number
	})
}
