package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResetter struct {
	open  bool
	calls int
}

func (f *fakeResetter) ResetBreaker(context.Context) bool {
	f.calls++
	if !f.open {
		return false
	}
	f.open = false
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newMux(nil, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBreakerResetEndpoint(t *testing.T) {
	resetter := &fakeResetter{open: true}
	srv := httptest.NewServer(newMux(resetter, testLogger()))
	defer srv.Close()

	// GET is rejected without touching the breaker.
	resp, err := http.Get(srv.URL + "/admin/breaker/reset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Zero(t, resetter.calls)

	// POST with an open breaker resets it.
	resp, err = http.Post(srv.URL+"/admin/breaker/reset", "", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", string(body))

	// A second POST finds the breaker closed.
	resp, err = http.Post(srv.URL+"/admin/breaker/reset", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
