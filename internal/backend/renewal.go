package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/authrelay/authrelay/internal/errors"
	"github.com/authrelay/authrelay/internal/resilience"
)

// GatewayRenewalClient renews tokens through the gateway's refresh
// endpoint. The gateway is a guarded dependency; renewal calls ride
// their own circuit breaker and bulkhead.
type GatewayRenewalClient struct {
	baseURL  string
	client   *http.Client
	breaker  *resilience.Breaker
	bulkhead *resilience.Bulkhead
}

// NewGatewayRenewalClient targets the gateway at baseURL.
func NewGatewayRenewalClient(baseURL string, timeout time.Duration) *GatewayRenewalClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GatewayRenewalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		breaker:  resilience.NewBreaker("gateway", resilience.BreakerConfig{}),
		bulkhead: resilience.NewBulkhead("gateway", 64),
	}
}

// Renew implements RenewalClient.
func (c *GatewayRenewalClient) Renew(ctx context.Context, tokenString string) (string, error) {
	payload, err := json.Marshal(map[string]string{"token": tokenString})
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "encoding renewal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "building renewal request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	err = c.bulkhead.Do(ctx, func() error {
		return c.breaker.Do(func() error {
			res, derr := c.client.Do(req)
			if derr != nil {
				return apperrors.Wrap(apperrors.KindDependencyUnavailable, "gateway unreachable for renewal", derr)
			}
			resp = res
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Newf(apperrors.KindAuthentication, "gateway refused renewal with status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "decoding renewal response", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("renewal response carried no token")
	}
	return body.Token, nil
}
