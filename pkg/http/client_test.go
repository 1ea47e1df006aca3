package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5m", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "test", r.Header.Get("X-Client"))
		_, _ = w.Write([]byte(`{"n":7}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Client", "test"))
	var out struct {
		N int `json:"n"`
	}
	err := c.GetJSON(context.Background(), srv.URL, map[string][]string{"timeframe": {"5m"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.N)
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().GetBytes(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusInternalServerError))
}

func TestGetBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	b, err := NewClient(WithHTTPClient(srv.Client())).GetBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
}
