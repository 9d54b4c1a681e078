package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/orchestrator"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
)

type fakeReleases struct {
	records  map[string]*state.Record
	promoted []string
}

func (f *fakeReleases) Status(_ context.Context, tag string) (*state.Record, error) {
	rec, ok := f.records[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrNotFound, tag)
	}
	return rec, nil
}

func (f *fakeReleases) Vote(_ context.Context, tag string) (string, error) {
	rec, ok := f.records[tag]
	if !ok {
		return "", fmt.Errorf("%w: %s", orchestrator.ErrUnknownRelease, tag)
	}
	if rec.Phase == state.PhaseCreated {
		return "", release.Orderingf("render vote text", "not staged")
	}
	return "vote for " + tag, nil
}

func (f *fakeReleases) Promote(_ context.Context, tag string) (orchestrator.PromoteResult, error) {
	rec := f.records[tag]
	if err := rec.BeginPromotion(); err != nil {
		return orchestrator.PromoteResult{}, err
	}
	f.promoted = append(f.promoted, tag)
	rec.Phase = state.PhasePromoted
	return orchestrator.PromoteResult{Record: rec}, nil
}

const secret = "test-secret"

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newServer(t *testing.T) (*fakeReleases, *httptest.Server) {
	t.Helper()
	f := &fakeReleases{records: map[string]*state.Record{
		"v1.0": {Tag: "v1.0", Phase: state.PhaseStaged},
		"v0.9": {Tag: "v0.9", Phase: state.PhaseCreated},
	}}
	v, err := NewTokenVerifier(secret, "")
	require.NoError(t, err)
	srv := httptest.NewServer(New(f, v, metrics.New(), nil).Router())
	t.Cleanup(srv.Close)
	return f, srv
}

func promote(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusAndVote(t *testing.T) {
	_, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/releases/v1.0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rec state.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, state.PhaseStaged, rec.Phase)

	resp2, err := http.Get(srv.URL + "/releases/v1.0/vote")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Equal(t, "vote for v1.0", string(body))

	resp3, err := http.Get(srv.URL + "/releases/v0.9/vote")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusConflict, resp3.StatusCode)

	resp4, err := http.Get(srv.URL + "/releases/v7/")
	require.NoError(t, err)
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp4.StatusCode)
}

func TestPromoteRequiresToken(t *testing.T) {
	f, srv := newServer(t)
	url := srv.URL + "/releases/v1.0/promote"
	exp := time.Now().Add(time.Hour).Unix()

	assert.Equal(t, http.StatusUnauthorized, promote(t, url, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, promote(t, url, token(t, jwt.MapClaims{"sub": "rm", "exp": exp, "scope": "read"})).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, promote(t, url, token(t, jwt.MapClaims{"sub": "rm", "scope": PromoteScope})).StatusCode, "exp is required")
	assert.Empty(t, f.promoted)

	resp := promote(t, url, token(t, jwt.MapClaims{"sub": "rm", "exp": exp, "scope": "read " + PromoteScope}))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"v1.0"}, f.promoted)

	resp = promote(t, srv.URL+"/releases/v0.9/promote", token(t, jwt.MapClaims{"exp": exp, "roles": []string{PromoteScope}}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTokenVerifierRejectsOtherAlgorithms(t *testing.T) {
	v, err := NewTokenVerifier(secret, "")
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"scope": PromoteScope, "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/releases/v1.0/promote", nil)
	req.Header.Set("Authorization", "Bearer "+unsigned)
	_, err = v.VerifyRequest(req)
	assert.Error(t, err)

	_, err = NewTokenVerifier("", "")
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := newServer(t)
	for _, p := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}
