// REST client for the Upbit-style spot exchange.
// RESTY, shared rate limiter, no internal retry: callers retry through src/retry.
package connectors

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

const remainingReqHeader = "Remaining-Req"

type UpbitClient struct {
	accessKey string
	secretKey string
	baseURL   string
	timeout   time.Duration
	limiter   *RateLimiter
	http      *resty.Client
}

func NewUpbitClient(accessKey, secretKey string, cfg Config, limiter *RateLimiter) *UpbitClient {
	baseURL := cfg.UpbitBaseURL
	if baseURL == "" {
		baseURL = "https://api.upbit.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if limiter == nil {
		limiter = SharedRateLimiter()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &UpbitClient{
		accessKey: accessKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		timeout:   timeout,
		limiter:   limiter,
		http:      httpClient,
	}
}

// encodeQuery builds the query string in the exact form that is hashed into the token.
// Array params keep their "key[]" names unescaped.
func encodeQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range params[k] {
			parts = append(parts, k+"="+url.QueryEscape(v))
		}
	}
	query := strings.Join(parts, "&")
	if unescaped, err := url.QueryUnescape(query); err == nil {
		return unescaped
	}
	return query
}

func (c *UpbitClient) authToken(query string) (string, error) {
	if c.accessKey == "" || c.secretKey == "" {
		return "", ErrMissingCredentials
	}
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secretKey))
}

type errorBody struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// doRequest sends one request. params go to the query string for GET/DELETE and to a
// JSON body for POST; both forms are hashed the same way for private calls.
func (c *UpbitClient) doRequest(ctx context.Context, method, path string, params url.Values, private bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := encodeQuery(params)
	req := c.http.R().SetContext(ctx)

	if private {
		token, err := c.authToken(query)
		if err != nil {
			return nil, err
		}
		req.SetAuthToken(token)
	}

	if method == http.MethodPost {
		body := make(map[string]string, len(params))
		for k := range params {
			body[k] = params.Get(k)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	} else if query != "" {
		req.SetQueryString(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.limiter.UpdateFromHeader(resp.Header().Get(remainingReqHeader))

	raw := resp.Body()
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return raw, nil
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		c.limiter.OnRateLimited()
	}

	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: string(raw)}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Name != "" {
		apiErr.Name = eb.Error.Name
		apiErr.Message = eb.Error.Message
	}

	logger.WithFields(map[string]interface{}{
		"component": "upbit_client",
		"method":    method,
		"path":      path,
		"status":    apiErr.StatusCode,
		"name":      apiErr.Name,
	}).Warn("exchange request failed")

	return nil, apiErr
}
