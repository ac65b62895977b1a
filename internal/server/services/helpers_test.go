package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/cryptox"
	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/kycflow/internal/server/metrics"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/dmitrijs2005/kycflow/internal/server/provider"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/kycflow/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// deriving the key is deliberately slow, so tests share one sealer
var testSealer = sync.OnceValues(func() (*cryptox.Sealer, error) {
	return cryptox.NewSealer("test-code-secret", "kycflow")
})

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider counts calls. When gate is set, ListDocuments blocks until it
// is closed, which keeps a fetch in flight.
type fakeProvider struct {
	mu            sync.Mutex
	exchangeCalls int
	listCalls     int
	downloadCalls int
	codes         []string

	docs        []provider.RemoteDocument
	exchangeErr error
	listErr     error
	downloadErr error
	gate        chan struct{}
}

func newFakeProvider(types ...models.DocumentType) *fakeProvider {
	p := &fakeProvider{}
	for _, t := range types {
		p.docs = append(p.docs, provider.RemoteDocument{
			Type:     t,
			Name:     string(t) + ".pdf",
			MimeType: "application/pdf",
			URI:      "/files/" + string(t),
		})
	}
	return p
}

func (p *fakeProvider) AuthorizationURL(state string, types []models.DocumentType) string {
	return fmt.Sprintf("https://provider.test/authorize?state=%s", state)
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	p.codes = append(p.codes, code)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer"}, nil
}

func (p *fakeProvider) ListDocuments(ctx context.Context, tok *oauth2.Token, types []models.DocumentType) ([]provider.RemoteDocument, error) {
	p.mu.Lock()
	p.listCalls++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]provider.RemoteDocument(nil), p.docs...), nil
}

func (p *fakeProvider) Download(ctx context.Context, tok *oauth2.Token, uri string) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloadCalls++
	if p.downloadErr != nil {
		return nil, "", p.downloadErr
	}
	return []byte("content of " + uri), "application/pdf", nil
}

func (p *fakeProvider) counts() (exchange, list, download int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls, p.listCalls, p.downloadCalls
}

// recordingNotifier keeps every published session.
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Session
	err    error
}

func (n *recordingNotifier) Publish(ctx context.Context, s *models.Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, *s.Clone())
	return n.err
}

func (n *recordingNotifier) statuses() []models.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Status, len(n.events))
	for i, e := range n.events {
		out[i] = e.Status
	}
	return out
}

type testEnv struct {
	svc      *VerificationService
	repos    *repomanager.InMemoryRepositoryManager
	store    *storage.MemoryStore
	provider *fakeProvider
	clock    *fakeClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, prov *fakeProvider, tweak ...func(*Options)) *testEnv {
	t.Helper()

	sealer, err := testSealer()
	require.NoError(t, err)

	env := &testEnv{
		repos:    repomanager.NewInMemoryRepositoryManager(),
		store:    storage.NewMemoryStore(),
		provider: prov,
		clock:    &fakeClock{now: t0},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}

	opts := Options{
		SessionTTL:     time.Hour,
		FetchTimeout:   5 * time.Second,
		CASMaxAttempts: 5,
		CallbackURL:    "https://kyc.test/api/v1/kyc/callback",
		Notifier:       env.notifier,
		Metrics:        env.metrics,
		Now:            env.clock.Now,
	}
	for _, f := range tweak {
		f(&opts)
	}

	env.svc = NewVerificationService(env.repos, prov, env.store, sealer, logging.NewDiscardLogger(), opts)
	t.Cleanup(env.svc.Wait)
	return env
}

// seedAuthorized initiates a session for userID and moves it straight to
// Authorized with a sealed code, bypassing the callback path so that no
// fetch is triggered.
func (e *testEnv) seedAuthorized(t *testing.T, userID string, types ...models.DocumentType) *models.Session {
	t.Helper()
	ctx := context.Background()

	s, err := e.svc.Initiate(ctx, userID, types)
	require.NoError(t, err)

	sealer, err := testSealer()
	require.NoError(t, err)
	sealed, nonce, err := sealer.Seal([]byte("abc123"), []byte(s.ID))
	require.NoError(t, err)

	next, ok, err := e.repos.Sessions().CASUpdate(ctx, s.ID, s.Version, func(c models.Session) (models.Session, error) {
		return lifecycle.Transition(c, lifecycle.Event{
			Kind:          lifecycle.CallbackSucceeded,
			Now:           e.clock.Now(),
			ConsentGiven:  true,
			AuthCode:      sealed,
			AuthCodeNonce: nonce,
		})
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StatusAuthorized, next.Status)
	return next
}

func (e *testEnv) stored(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := e.repos.Sessions().Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (e *testEnv) documents(t *testing.T, id string) []*models.Document {
	t.Helper()
	docs, err := e.repos.Documents().ListBySession(context.Background(), id)
	require.NoError(t, err)
	return docs
}

var errProviderDown = errors.New("connection refused")
