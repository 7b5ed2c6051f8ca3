package connectors

// Test index:
//  1. TestEncodeQuery keeps array keys unescaped and params sorted.
//  2. TestAuthTokenClaims checks the signed claims, with and without a query hash.
//  3. TestPrivateCallWithoutCredentials fails fatally before any request.
//  4. TestGetOrderHistory verifies query wiring, auth header and raw payload retention.
//  5. TestPlaceOrderSendsJSONBody checks the POST body and decoded response.
//  6. TestAPIErrorMapping covers error bodies and their classification.
//  7. TestRateLimitedResponsePausesLimiter feeds a 429 back into the shared limiter.
//  8. TestGetCurrentPrice picks the ticker of the requested market.

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *UpbitClient {
	t.Helper()
	cfg := Config{UpbitBaseURL: baseURL, RequestTimeout: 2 * time.Second}
	limiter := NewRateLimiter(1000, 100, 10*time.Millisecond, 50*time.Millisecond)
	return NewUpbitClient("test-access", "test-secret", cfg, limiter)
}

func parseToken(t *testing.T, header string) jwt.MapClaims {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "Bearer "), "authorization header: %q", header)
	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func TestEncodeQuery(t *testing.T) {
	params := url.Values{
		"states[]": {"done", "cancel"},
		"market":   {"KRW-BTC"},
		"page":     {"2"},
	}
	assert.Equal(t, "market=KRW-BTC&page=2&states[]=done&states[]=cancel", encodeQuery(params))
	assert.Equal(t, "", encodeQuery(nil))
}

func TestAuthTokenClaims(t *testing.T) {
	c := newTestClient(t, "http://unused")

	t.Run("without query", func(t *testing.T) {
		token, err := c.authToken("")
		require.NoError(t, err)
		claims := parseToken(t, "Bearer "+token)
		assert.Equal(t, "test-access", claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		assert.NotContains(t, claims, "query_hash")
	})

	t.Run("with query", func(t *testing.T) {
		token, err := c.authToken("market=KRW-BTC")
		require.NoError(t, err)
		claims := parseToken(t, "Bearer "+token)
		sum := sha512.Sum512([]byte("market=KRW-BTC"))
		assert.Equal(t, hex.EncodeToString(sum[:]), claims["query_hash"])
		assert.Equal(t, "SHA512", claims["query_hash_alg"])
	})
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewUpbitClient("", "", Config{UpbitBaseURL: srv.URL}, NewRateLimiter(1000, 10, time.Millisecond, time.Millisecond))
	_, err := c.GetAccounts(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.True(t, IsFatal(err))
	assert.False(t, called)
}

func TestGetOrderHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))
		assert.Equal(t, []string{"done", "cancel"}, r.URL.Query()["states[]"])
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "desc", r.URL.Query().Get("order_by"))

		claims := parseToken(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, claims["query_hash"])

		w.Header().Set(remainingReqHeader, "group=order; min=100; sec=7")
		_, _ = w.Write([]byte(`[
			{"uuid":"o-1","side":"bid","ord_type":"price","price":"10000","state":"done","market":"KRW-BTC",
			 "created_at":"2024-03-01T10:00:00+09:00","volume":null,"executed_volume":"0.0002","paid_fee":"5","trades_count":1},
			{"uuid":"o-2","side":"ask","ord_type":"market","state":"cancel","market":"KRW-BTC",
			 "created_at":"2024-03-01T09:00:00+09:00","volume":"0.1","executed_volume":"0","paid_fee":"0","trades_count":0}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	records, err := c.GetOrderHistory(context.Background(), OrderHistoryQuery{
		Market: "KRW-BTC",
		States: []string{"done", "cancel"},
		Page:   3,
		Limit:  500,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "o-1", records[0].UUID)
	assert.Equal(t, "0.0002", records[0].ExecutedVolume.String())
	assert.True(t, records[0].Volume.IsZero())
	assert.Equal(t, OrderStateCancel, records[1].State)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(records[1].Raw, &raw))
	assert.Equal(t, "o-2", raw["uuid"])
}

func TestPlaceOrderSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"market":   "KRW-ETH",
			"side":     "bid",
			"ord_type": "price",
			"price":    "50000",
		}, body)

		claims := parseToken(t, r.Header.Get("Authorization"))
		sum := sha512.Sum512([]byte("market=KRW-ETH&ord_type=price&price=50000&side=bid"))
		assert.Equal(t, hex.EncodeToString(sum[:]), claims["query_hash"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uuid":"new-1","side":"bid","ord_type":"price","price":"50000","state":"wait","market":"KRW-ETH"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	rec, err := c.PlaceOrder(context.Background(), OrderRequest{
		Market:  "KRW-ETH",
		Side:    SideBid,
		OrdType: OrdTypePrice,
		Price:   "50000",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", rec.UUID)
	assert.Equal(t, OrderStateWait, rec.State)
	assert.NotEmpty(t, rec.Raw)
}

func TestAPIErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantName  string
		transient bool
		fatal     bool
	}{
		{name: "insufficient funds", status: 400, body: `{"error":{"name":"insufficient_funds_bid","message":"not enough"}}`, wantName: "insufficient_funds_bid"},
		{name: "bad key", status: 401, body: `{"error":{"name":"invalid_access_key","message":"bad key"}}`, wantName: "invalid_access_key", fatal: true},
		{name: "server error", status: 502, body: `bad gateway`, transient: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).GetAccounts(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.wantName, apiErr.Name)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, tc.fatal, IsFatal(err))
		})
	}
}

func TestRateLimitedResponsePausesLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"name":"too_many_requests","message":"slow down"}}`))
	}))
	defer srv.Close()

	limiter := NewRateLimiter(1000, 10, time.Second, time.Second)
	c := NewUpbitClient("", "", Config{UpbitBaseURL: srv.URL, RequestTimeout: time.Second}, limiter)
	_, err := c.GetMarkets(context.Background())
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.True(t, IsTransient(err))
	assert.Greater(t, c.limiter.pauseLeft(), time.Duration(0))
}

func TestGetCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-XRP", r.URL.Query().Get("markets"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"market":"KRW-XRP","trade_price":812.5,"signed_change_rate":0.031}]`))
	}))
	defer srv.Close()

	price, err := newTestClient(t, srv.URL).GetCurrentPrice(context.Background(), "KRW-XRP")
	require.NoError(t, err)
	assert.Equal(t, 812.5, price)
}
