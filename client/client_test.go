package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/sharedbag/internal/domain"
)

const walletAddr = "0x1234567890abcdef1234567890abcdef12345678"

func TestCreateEmbeddedWallet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/environments/env-1/embeddedWallets", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body createWalletBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@b.co", body.Identifier)
		assert.Equal(t, "email", body.Type)
		assert.Equal(t, []string{"EVM"}, body.Chains)
		assert.Equal(t, "emailOnly", body.SocialProvider)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"wallets":[{"publicKey":"` + walletAddr + `"}]}}`))
	}))
	defer srv.Close()

	cl := New(srv.URL, "key", 0)

	wallet, err := cl.CreateEmbeddedWallet(context.Background(), "env-1", "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, walletAddr, wallet.WalletAddress)
	assert.NotEmpty(t, wallet.Upstream)

	// cached
	_, err = cl.CreateEmbeddedWallet(context.Background(), "env-1", "A@B.co")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCreateEmbeddedWalletUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"environment disabled"}`))
	}))
	defer srv.Close()

	cl := New(srv.URL, "key", 0)
	_, err := cl.CreateEmbeddedWallet(context.Background(), "env-1", "a@b.co")

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.Equal(t, "environment disabled", upstream.Message)
}

func TestCreateEmbeddedWalletUpstreamErrorWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cl := New(srv.URL, "key", 0)
	_, err := cl.CreateEmbeddedWallet(context.Background(), "env-1", "a@b.co")

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "Failed to create embedded wallet", upstream.Message)
}

func TestCreateEmbeddedWalletMissingAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	cl := New(srv.URL, "key", 0)
	_, err := cl.CreateEmbeddedWallet(context.Background(), "env-1", "a@b.co")
	assert.Error(t, err)
}
