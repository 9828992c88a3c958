package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newControllerServer(t *testing.T, secret string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			http.NotFound(w, r)
			return
		}
		if secret != "" && r.Header.Get("Authorization") != "Bearer "+secret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"meta":true,"version":"v1.19.0"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	srv := newControllerServer(t, "s3cret")
	c, err := NewController(strings.TrimPrefix(srv.URL, "http://"), "s3cret", time.Second)
	require.NoError(t, err)

	info, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.19.0", info.Version)
	assert.True(t, info.Meta)
}

func TestVersion_WrongSecret(t *testing.T) {
	srv := newControllerServer(t, "s3cret")
	c, err := NewController(strings.TrimPrefix(srv.URL, "http://"), "nope", time.Second)
	require.NoError(t, err)

	_, err = c.Version(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewController_WildcardUsesLoopback(t *testing.T) {
	c, err := NewController("0.0.0.0:9090", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", c.BaseURL())

	c, err = NewController(":9090", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", c.BaseURL())

	_, err = NewController("nonsense", "", time.Second)
	assert.Error(t, err)
}
