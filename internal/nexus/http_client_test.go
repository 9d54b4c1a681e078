package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// fakeNexus serves the staging endpoints the client uses.
type fakeNexus struct {
	mu       sync.Mutex
	deployed map[string]string
	bulk     map[string][]string
	status   RepositoryStatus
}

func newFakeNexus(t *testing.T) (*fakeNexus, *httptest.Server) {
	t.Helper()
	f := &fakeNexus{deployed: map[string]string{}, bulk: map[string][]string{}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if u, p, ok := req.BasicAuth(); !ok || u != "deployer" || p != "secret" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/service/local/staging/profiles/{profile}/start", func(w http.ResponseWriter, req *http.Request) {
		var body startRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"stagedRepositoryId": chi.URLParam(req, "profile") + "-1001", "description": body.Data.Description},
		})
	})
	r.Put("/service/local/staging/deployByRepositoryId/{id}/*", func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		f.mu.Lock()
		f.deployed[chi.URLParam(req, "id")+"/"+chi.URLParam(req, "*")] = string(b)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/service/local/staging/bulk/{action}", func(w http.ResponseWriter, req *http.Request) {
		var body bulkRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.bulk[chi.URLParam(req, "action")] = body.Data.StagedRepositoryIDs
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/service/local/staging/repository/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "missing" {
			http.NotFound(w, req)
			return
		}
		f.mu.Lock()
		st := f.status
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(st)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNexus) deployedAt(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployed[p]
}

func (f *fakeNexus) bulkIDs(action string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bulk[action]
}

func (f *fakeNexus) setStatus(st RepositoryStatus) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPClientConfig{
		BaseURL:   baseURL,
		ProfileID: "orgexample",
		Username:  "deployer",
		Password:  "secret",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestHTTPClientStagingLifecycle(t *testing.T) {
	fake, srv := newFakeNexus(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	id, err := c.OpenStagingRepository(ctx, "proj 1.0")
	require.NoError(t, err)
	assert.Equal(t, "orgexample-1001", id)

	dir := t.TempDir()
	jar := filepath.Join(dir, "core-1.0.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))
	mod := Module{Group: "org.example", Artifact: "core", Version: "1.0", Files: []string{jar}}
	require.NoError(t, c.Publish(ctx, id, mod))
	assert.Equal(t, "jar", fake.deployedAt("orgexample-1001/org/example/core/1.0/core-1.0.jar"))

	require.NoError(t, c.Close(ctx, id, "vote"))
	require.NoError(t, c.Release(ctx, id, "released"))
	require.NoError(t, c.Drop(ctx, id, "cleanup"))
	assert.Equal(t, []string{id}, fake.bulkIDs("close"))
	assert.Equal(t, []string{id}, fake.bulkIDs("promote"))
	assert.Equal(t, []string{id}, fake.bulkIDs("drop"))

	fake.setStatus(RepositoryStatus{ID: id, Type: StatusClosed})
	st, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, st.Type)
	assert.False(t, st.Transitioning)
}

func TestHTTPClientErrors(t *testing.T) {
	_, srv := newFakeNexus(t)
	ctx := context.Background()

	c := newTestClient(t, srv.URL)
	_, err := c.Status(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, release.ErrRemoteTransaction))

	bad, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, ProfileID: "orgexample", Username: "deployer", Password: "wrong"})
	require.NoError(t, err)
	_, err = bad.OpenStagingRepository(ctx, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewHTTPClientValidates(t *testing.T) {
	_, err := NewHTTPClient(HTTPClientConfig{ProfileID: "p"})
	assert.ErrorIs(t, err, release.ErrConfiguration)
	_, err = NewHTTPClient(HTTPClientConfig{BaseURL: "http://nexus"})
	assert.ErrorIs(t, err, release.ErrConfiguration)
}

func TestModuleDeployPath(t *testing.T) {
	m := Module{Group: "org.apache.jmeter", Artifact: "ApacheJMeter_core", Version: "5.6"}
	assert.Equal(t, "org/apache/jmeter/ApacheJMeter_core/5.6/core.jar", m.DeployPath("/build/libs/core.jar"))
	assert.Equal(t, "org.apache.jmeter:ApacheJMeter_core:5.6", m.Coordinates())
}

func TestAwaitStopsWhenSettled(t *testing.T) {
	c := NewMemoryClient("mem://nexus")
	ctx := context.Background()
	id, err := c.OpenStagingRepository(ctx, "x")
	require.NoError(t, err)
	c.SetStatus(id, StatusClosed, true)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.SetStatus(id, StatusClosed, false)
	}()
	st, err := Await(ctx, c, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, st.Type)
	assert.False(t, st.Transitioning)
}

func TestMemoryClientTransitions(t *testing.T) {
	c := NewMemoryClient("mem://nexus")
	ctx := context.Background()
	id, err := c.OpenStagingRepository(ctx, "x")
	require.NoError(t, err)

	assert.Error(t, c.Release(ctx, id, ""), "release requires closed")
	require.NoError(t, c.Close(ctx, id, ""))
	assert.Error(t, c.Close(ctx, id, ""))
	require.NoError(t, c.Release(ctx, id, ""))

	c.FailOn("open", errors.New("boom"))
	_, err = c.OpenStagingRepository(ctx, "y")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Opened())
}
