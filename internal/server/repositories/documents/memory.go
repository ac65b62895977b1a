package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

// MemoryRepository is an in-process Repository keyed by session.
type MemoryRepository struct {
	mu        sync.Mutex
	bySession map[string][]models.Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bySession: make(map[string][]models.Document)}
}

// CreateBatch rejects a batch containing a (session, type) pair that is
// already stored, leaving the repository unchanged.
func (r *MemoryRepository) CreateBatch(ctx context.Context, docs []*models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct {
		session string
		typ     models.DocumentType
	}
	seen := make(map[key]struct{})
	for _, list := range r.bySession {
		for _, d := range list {
			seen[key{d.SessionID, d.DocumentType}] = struct{}{}
		}
	}
	for _, d := range docs {
		k := key{d.SessionID, d.DocumentType}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("db error: duplicate document %s for session %s", d.DocumentType, d.SessionID)
		}
		seen[k] = struct{}{}
	}

	for _, d := range docs {
		r.bySession[d.SessionID] = append(r.bySession[d.SessionID], *d)
	}
	return nil
}

func (r *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Document
	for _, d := range r.bySession[sessionID] {
		d := d
		result = append(result, &d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocumentType < result[j].DocumentType })
	return result, nil
}

// DeleteBatch removes the given documents. It undoes a CreateBatch inside a
// rolled back unit of work.
func (r *MemoryRepository) DeleteBatch(docs []*models.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		drop[d.ID] = struct{}{}
	}
	for sid, list := range r.bySession {
		kept := list[:0]
		for _, d := range list {
			if _, ok := drop[d.ID]; !ok {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(r.bySession, sid)
		} else {
			r.bySession[sid] = kept
		}
	}
}
