package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/dedupstack/internal/config"
	"github.com/agenthands/dedupstack/internal/core"
	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/source"
	"github.com/agenthands/dedupstack/internal/store"
	"github.com/agenthands/dedupstack/internal/task"
)

type nopAbsorber struct{}

func (nopAbsorber) Absorb(ctx context.Context, primary, secondary string) error { return nil }

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	cfg := config.Default()
	runner := task.NewRunner(2, 2, time.Millisecond, time.Minute)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)

	srv := &Server{
		Engine:   core.NewEngine(s, runner, cfg, nopAbsorber{}),
		Ingestor: source.NewIngestor(s, cfg),
		Store:    s,
		Runner:   runner,
	}
	return srv, srv.SetupRouter()
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestInstallAndStacksFlow(t *testing.T) {
	srv, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces/ws/items", gin.H{
		"item_type": "contact",
		"records": []gin.H{
			{"remote_id": "r-1", "fields": gin.H{"phones": []string{"+441"}, "emails": []string{"a@x.com"}}},
			{"remote_id": "r-2", "fields": gin.H{"phones": []string{"+441"}, "emails": []string{"a@x.com"}}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/workspaces/ws/install", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	srv.Runner.Drain()

	w = doJSON(t, r, http.MethodGet, "/workspaces/ws/stacks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Stacks []*model.DupStack `json:"stacks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Stacks, 1)
	stack := listResp.Stacks[0]

	w = doJSON(t, r, http.MethodGet, "/workspaces/ws/stacks/"+stack.UUID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/workspaces/ws/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progResp struct {
		Operations []*model.Operation `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progResp))
	assert.Len(t, progResp.Operations, 2) // install and resolve

	w = doJSON(t, r, http.MethodPost, "/workspaces/ws/stacks/"+stack.UUID+"/merge", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	// The emptied stack is gone.
	w = doJSON(t, r, http.MethodGet, "/workspaces/ws/stacks/"+stack.UUID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces/ws/items", gin.H{"records": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMergeUnknownStackIs404(t *testing.T) {
	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces/ws/stacks/nope/merge", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFalsePositiveRoute(t *testing.T) {
	srv, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces/ws/items", gin.H{
		"item_type": "contact",
		"records": []gin.H{
			{"remote_id": "r-1", "fields": gin.H{"phones": []string{"+441"}, "emails": []string{"a@x.com"}}},
			{"remote_id": "r-2", "fields": gin.H{"phones": []string{"+441"}, "emails": []string{"a@x.com"}}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodPost, "/workspaces/ws/install", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	srv.Runner.Drain()

	stacks, err := srv.Store.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	dups := stacks[0].WithRole(model.RoleConfident)
	require.Len(t, dups, 1)

	w = doJSON(t, r, http.MethodPost,
		"/workspaces/ws/stacks/"+stacks[0].UUID+"/members/"+dups[0]+"/false-positive", nil)
	require.Equal(t, http.StatusOK, w.Code)

	fresh, err := srv.Store.GetStack(context.Background(), "ws", stacks[0].UUID)
	require.NoError(t, err)
	role, ok := fresh.RoleOf(dups[0])
	require.True(t, ok)
	assert.Equal(t, model.RoleFalsePositive, role)
}

func TestResetRoute(t *testing.T) {
	srv, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/workspaces/ws/items", gin.H{
		"item_type": "contact",
		"records": []gin.H{
			{"remote_id": "r-1", "fields": gin.H{"emails": []string{"a@x.com"}}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodPost, "/workspaces/ws/install", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	srv.Runner.Drain()

	w = doJSON(t, r, http.MethodPost, "/workspaces/ws/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/workspaces/ws/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progResp struct {
		Operations []*model.Operation `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progResp))
	assert.Empty(t, progResp.Operations)
}
