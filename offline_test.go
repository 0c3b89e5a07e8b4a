package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricedemange/coopaz-offline/client"
	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/store"
)

// fakeServer imitates the subset of the coop API the agent talks to.
type fakeServer struct {
	*httptest.Server

	mu         sync.Mutex
	patches    []string // request bodies of code-ean PATCHes, in order
	patchFail  bool
	sessionID  int64
	savedLines []model.DraftLine
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{sessionID: 77}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/caisse/produits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"produits": []model.Product{
				{ID: 1, Name: "Farine T65", CategoryID: 10, Stock: 12},
				{ID: 2, Name: "Huile olive", CategoryID: 10, Stock: 3},
			},
			"categories": []model.Category{
				{ID: 10, Name: "Epicerie", Position: 1},
			},
		})
	})
	mux.HandleFunc("PATCH /api/caisse/products/{id}/code-ean", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.patchFail {
			http.Error(w, `{"success":false}`, http.StatusInternalServerError)
			return
		}
		var body struct {
			EAN *string `json:"code_ean"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		val := "<nil>"
		if body.EAN != nil {
			val = *body.EAN
		}
		fs.patches = append(fs.patches, r.PathValue("id")+"="+val)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("POST /api/caisse/inventaires", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"inventaire": map[string]any{"id": fs.sessionID},
		})
	})
	mux.HandleFunc("POST /api/caisse/inventaires/{id}/lignes", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		var line model.DraftLine
		_ = json.NewDecoder(r.Body).Decode(&line)
		fs.savedLines = append(fs.savedLines, line)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) setPatchFail(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.patchFail = fail
}

func (fs *fakeServer) patchLog() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.patches...)
}

func (fs *fakeServer) lines() []model.DraftLine {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]model.DraftLine(nil), fs.savedLines...)
}

func openAgent(t *testing.T, baseURL string, extra ...Option) *Agent {
	t.Helper()
	opts := append([]Option{WithBaseURL(baseURL)}, extra...)
	agent, err := Open(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Close() })
	return agent
}

func strPtr(s string) *string { return &s }

func TestTransactionFailedSurfacesAtFacade(t *testing.T) {
	// Callers implement the retry policy against the facade sentinel;
	// it must match errors produced deep in the store layer.
	err := fmt.Errorf("put meta/cache: %w", store.ErrTransactionFailed)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestOpenRunsMigrations(t *testing.T) {
	ctx := context.Background()
	agent := openAgent(t, "http://127.0.0.1:1")

	version, err := agent.Store().SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSchemaVersion, version)
}

func TestRefreshReferencePopulatesCache(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	metrics := &BasicMetricsCollector{}
	agent := openAgent(t, srv.URL, WithMetricsCollector(metrics))

	ref, err := agent.RefreshReference(ctx)
	require.NoError(t, err)
	require.Len(t, ref.Products, 2)
	require.Len(t, ref.Categories, 1)

	cached, err := agent.CachedReference(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, ref.Products, cached.Products)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.RefreshCount)
	assert.Equal(t, int64(0), stats.RefreshErrors)
}

func TestRefreshFallsBackToCachedCopy(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL, WithHTTPTimeout(time.Second))

	_, err := agent.RefreshReference(ctx)
	require.NoError(t, err)

	srv.Close()

	ref, err := agent.RefreshReference(ctx)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Len(t, ref.Products, 2)
}

func TestRefreshWithoutCacheFails(t *testing.T) {
	ctx := context.Background()
	agent := openAgent(t, "http://127.0.0.1:1", WithHTTPTimeout(time.Second))

	_, err := agent.RefreshReference(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestRecordEANUpdateAndReconcile(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL)

	_, err := agent.RefreshReference(ctx)
	require.NoError(t, err)

	require.NoError(t, agent.RecordEANUpdate(ctx, 1, strPtr("3560070976478")))
	require.NoError(t, agent.RecordEANUpdate(ctx, 2, nil))
	assert.True(t, agent.HasPendingChanges(1))
	assert.True(t, agent.HasPendingChanges(2))

	// The cache reflects the edit before any network traffic happened.
	cached, err := agent.CachedReference(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached.Products[0].EAN)
	assert.Equal(t, "3560070976478", *cached.Products[0].EAN)

	res, err := agent.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, agent.HasPendingChanges(1))
	assert.Equal(t, []string{"1=3560070976478", "2=<nil>"}, srv.patchLog())
}

func TestReconcileStopsOnServerError(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL)

	require.NoError(t, agent.RecordEANUpdate(ctx, 1, strPtr("111")))
	require.NoError(t, agent.RecordEANUpdate(ctx, 1, strPtr("222")))

	srv.setPatchFail(true)
	res, err := agent.Reconcile(ctx)
	require.Error(t, err)
	var apiErr *client.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Remaining)

	srv.setPatchFail(false)
	res, err = agent.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, []string{"1=111", "1=222"}, srv.patchLog())
}

func TestOnConnectivityRestoredIsRateLimited(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL)

	_, ran, err := agent.OnConnectivityRestored(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	// A second event inside the window is swallowed.
	_, ran, err = agent.OnConnectivityRestored(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestPromoteDraft(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL)

	localID, err := agent.Drafts().Create(ctx)
	require.NoError(t, err)

	lines := []model.DraftLine{
		{ProductID: 1, Quantity: 11.5},
		{ProductID: 2, Quantity: 3, Note: "fond de rayon"},
	}
	require.NoError(t, agent.SaveDraftLines(ctx, lines))

	id, err := agent.PromoteDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, lines, srv.lines())

	d, err := agent.Drafts().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "77", d.ID)
	assert.Equal(t, lines, d.Lines)
	assert.NotEqual(t, localID, d.ID)

	// Promoting again is a no-op: the draft already lives on the server.
	id, err = agent.PromoteDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Len(t, srv.lines(), 2)
}

func TestPromoteDraftWithoutDraft(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)
	agent := openAgent(t, srv.URL)

	_, err := agent.PromoteDraft(ctx)
	assert.True(t, errors.Is(err, ErrNoDraft))
}
