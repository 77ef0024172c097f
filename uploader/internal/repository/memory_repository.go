package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository - журнал в памяти, когда PostgreSQL не настроен
type MemoryRepository struct {
	requests map[string]*UploadRequest
	mutex    sync.RWMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]*UploadRequest),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, req *UploadRequest) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*UploadRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *req
	return &cp, nil
}

func (r *MemoryRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*UploadRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var requests []*UploadRequest
	for _, req := range r.requests {
		if req.DeviceID == deviceID {
			cp := *req
			requests = append(requests, &cp)
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].GeneratedAt.After(requests[j].GeneratedAt)
	})
	if limit > 0 && len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}
