package oidc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"token_endpoint": "https://identity.example/token",
			"jwks_uri": "https://identity.example/jwks",
			"id_token_signing_alg_values_supported": ["RS256"]
		}`))
	}))
	defer server.Close()

	doc, err := Discover(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://identity.example/token", doc.TokenEndpoint)
	assert.Equal(t, "https://identity.example/jwks", doc.JWKSURI)
	assert.Equal(t, []string{"RS256"}, doc.IDTokenSigningAlgValuesSupported)
}

func TestDiscoverNonOKStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := Discover(context.Background(), server.Client(), server.URL)
	assert.Error(t, err)
}

func TestDiscoverMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := Discover(context.Background(), server.Client(), server.URL)
	assert.Error(t, err)
}
