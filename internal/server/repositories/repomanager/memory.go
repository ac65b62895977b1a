package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/documents"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/sessions"
)

// InMemoryRepositoryManager keeps everything in process memory. Units of
// work are serialized and rolled back through an undo journal.
type InMemoryRepositoryManager struct {
	sessions  *sessions.MemoryRepository
	documents *documents.MemoryRepository
	txMu      sync.Mutex
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		sessions:  sessions.NewMemoryRepository(),
		documents: documents.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }
func (m *InMemoryRepositoryManager) Ping(ctx context.Context) error          { return nil }

func (m *InMemoryRepositoryManager) Sessions() sessions.Repository   { return m.sessions }
func (m *InMemoryRepositoryManager) Documents() documents.Repository { return m.documents }

func (m *InMemoryRepositoryManager) WithinTx(ctx context.Context, fn TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	var undo []func()
	s := &journaledSessions{Repository: m.sessions, mem: m.sessions, undo: &undo}
	d := &journaledDocuments{Repository: m.documents, mem: m.documents, undo: &undo}

	if err := fn(ctx, s, d); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

type journaledSessions struct {
	sessions.Repository
	mem  *sessions.MemoryRepository
	undo *[]func()
}

func (j *journaledSessions) CASUpdate(ctx context.Context, id string, expectedVersion int64, mutate sessions.Mutator) (*models.Session, bool, error) {
	var prev *models.Session
	s, ok, err := j.mem.CASUpdate(ctx, id, expectedVersion, func(cur models.Session) (models.Session, error) {
		prev = cur.Clone()
		return mutate(cur)
	})
	if ok && prev != nil {
		version := s.Version
		*j.undo = append(*j.undo, func() { j.mem.Restore(prev, version) })
	}
	return s, ok, err
}

type journaledDocuments struct {
	documents.Repository
	mem  *documents.MemoryRepository
	undo *[]func()
}

func (j *journaledDocuments) CreateBatch(ctx context.Context, docs []*models.Document) error {
	if err := j.mem.CreateBatch(ctx, docs); err != nil {
		return err
	}
	*j.undo = append(*j.undo, func() { j.mem.DeleteBatch(docs) })
	return nil
}
