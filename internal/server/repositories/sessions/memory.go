package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

// MemoryRepository is an in-process Repository. All methods hold a single
// mutex, so CASUpdate is atomic by construction. Stored values are cloned on
// the way in and out.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*models.Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[s.ID]; ok {
		return common.ErrValidation
	}
	for _, existing := range r.byID {
		if existing.ProviderSessionID == s.ProviderSessionID {
			return common.ErrValidation
		}
		if existing.UserID == s.UserID && !existing.Status.IsTerminal() && !s.Status.IsTerminal() {
			return common.ErrActiveSessionExists
		}
	}
	r.byID[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) find(match func(*models.Session) bool, newer func(a, b *models.Session) bool) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.Session
	for _, s := range r.byID {
		if match(s) && (best == nil || newer(s, best)) {
			best = s
		}
	}
	if best == nil {
		return nil, common.ErrSessionNotFound
	}
	return best.Clone(), nil
}

func (r *MemoryRepository) GetByProviderSessionID(ctx context.Context, providerSessionID string) (*models.Session, error) {
	return r.find(
		func(s *models.Session) bool { return s.ProviderSessionID == providerSessionID },
		func(a, b *models.Session) bool { return false },
	)
}

func (r *MemoryRepository) FindActiveByUser(ctx context.Context, userID string) (*models.Session, error) {
	return r.find(
		func(s *models.Session) bool { return s.UserID == userID && !s.Status.IsTerminal() },
		func(a, b *models.Session) bool { return a.CreatedAt.After(b.CreatedAt) },
	)
}

func (r *MemoryRepository) FindLatestByUserAndStatus(ctx context.Context, userID string, status models.Status) (*models.Session, error) {
	return r.find(
		func(s *models.Session) bool { return s.UserID == userID && s.Status == status },
		func(a, b *models.Session) bool { return a.UpdatedAt.After(b.UpdatedAt) },
	)
}

func (r *MemoryRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Session
	for _, s := range r.byID {
		if !s.Status.IsTerminal() && s.IsExpiredAt(now) {
			result = append(result, s.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) CASUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (*models.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok {
		return nil, false, common.ErrSessionNotFound
	}
	if cur.Version != expectedVersion {
		return cur.Clone(), false, nil
	}

	next, err := mutate(*cur.Clone())
	if err != nil {
		return cur.Clone(), false, err
	}

	// identity and deadline are fixed at creation
	stored := cur.Clone()
	stored.Status = next.Status
	stored.ConsentGiven = next.ConsentGiven
	stored.AuthCode = append([]byte(nil), next.AuthCode...)
	stored.AuthCodeNonce = append([]byte(nil), next.AuthCodeNonce...)
	stored.FailureReason = next.FailureReason
	stored.UpdatedAt = next.UpdatedAt
	stored.Version = expectedVersion + 1

	r.byID[id] = stored
	return stored.Clone(), true, nil
}

// Restore puts prev back if the stored session is still at version
// ifVersion. It undoes a CASUpdate inside a rolled back unit of work.
func (r *MemoryRepository) Restore(prev *models.Session, ifVersion int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[prev.ID]; ok && cur.Version == ifVersion {
		r.byID[prev.ID] = prev.Clone()
	}
}
