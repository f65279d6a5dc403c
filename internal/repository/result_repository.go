package repository

import (
	"sync"

	"detectweb/internal/domain"
)

const defaultResultHistory = 64

// ResultRepository keeps the most recent results in memory, keyed by ID.
type ResultRepository interface {
	Save(result *domain.Result)
	Get(id string) (*domain.Result, bool)
}

type resultRepository struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	results  map[string]*domain.Result
}

func NewResultRepository(capacity int) ResultRepository {
	if capacity <= 0 {
		capacity = defaultResultHistory
	}
	return &resultRepository{
		capacity: capacity,
		results:  make(map[string]*domain.Result, capacity),
	}
}

func (r *resultRepository) Save(result *domain.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.results[result.ID]; !ok {
		r.order = append(r.order, result.ID)
	}
	r.results[result.ID] = result

	for len(r.order) > r.capacity {
		delete(r.results, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *resultRepository) Get(id string) (*domain.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.results[id]
	return result, ok
}
