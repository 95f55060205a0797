package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderCreateCustomer(t *testing.T) {
	t.Run("posts the customer and returns the id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/customers", r.URL.Path)
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Acme", body["name"])
			assert.Equal(t, "owner@acme.example", body["email"])

			json.NewEncoder(w).Encode(map[string]string{"id": "cus_123"})
		}))
		defer srv.Close()

		provider := NewHTTPProvider(srv.URL, "sk_test")
		id, err := provider.CreateCustomer(context.Background(), "Acme", "owner@acme.example")
		require.NoError(t, err)
		assert.Equal(t, "cus_123", id)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		}))
		defer srv.Close()

		provider := NewHTTPProvider(srv.URL, "sk_test")
		_, err := provider.CreateCustomer(context.Background(), "Acme", "owner@acme.example")
		assert.Error(t, err)
	})

	t.Run("empty id is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer srv.Close()

		provider := NewHTTPProvider(srv.URL, "sk_test")
		_, err := provider.CreateCustomer(context.Background(), "Acme", "owner@acme.example")
		assert.Error(t, err)
	})
}

func TestHTTPProviderSetSeatCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/customers/cus_123/seats", r.URL.Path)

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 9, body["quantity"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, "sk_test")
	err := provider.SetSeatCount(context.Background(), "cus_123", 9)
	assert.NoError(t, err)
}
