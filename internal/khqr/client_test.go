package khqr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckByMD5Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/check_transaction_by_md5", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "abc123", body["md5"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseCode": 0,
			"data": map[string]any{
				"hash":     "abc123",
				"currency": "USD",
				"amount":   25.0,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "shop@example.com", "test-token", zap.NewNop())
	tx, err := client.CheckByMD5(context.Background(), "abc123")

	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, 25.0, tx.Amount)
	require.Equal(t, "USD", tx.Currency)
}

func TestCheckByMD5NotYetPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseCode":    1,
			"responseMessage": "Transaction could not be found",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "shop@example.com", "test-token", zap.NewNop())
	tx, err := client.CheckByMD5(context.Background(), "missing")

	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestCheckByMD5RenewsExpiredToken(t *testing.T) {
	renewed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/renew_token":
			renewed = true
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"responseCode": 0,
				"data":         map[string]string{"token": "fresh-token"},
			})
		case "/v1/check_transaction_by_md5":
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"responseCode": 0,
				"data":         map[string]any{"hash": "abc123", "amount": 10.0},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "shop@example.com", "stale-token", zap.NewNop())
	tx, err := client.CheckByMD5(context.Background(), "abc123")

	require.NoError(t, err)
	require.NotNil(t, tx)
	require.True(t, renewed)
}
