package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPOSTSendsJSONAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/targets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("X-Strategy"))

		var in map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 3, in["n"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithBearer("tok"), WithHeader("X-Strategy", "v1"), WithTimeout(time.Second))
	resp, err := c.POST(context.Background(), "/targets", map[string]int{"n": 3})
	require.NoError(t, err)

	var out struct{ OK bool }
	require.NoError(t, resp.ParseJSON(&out))
	assert.True(t, out.OK)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient().GET(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "nope")
}

func TestEmptyBearerIsNotSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBearer("")).GET(context.Background(), srv.URL)
	require.NoError(t, err)
}
