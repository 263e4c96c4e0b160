package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"
)

const DefaultDeliveryTimeout = 3 * time.Second

// Client forwards payloads to the owning instance
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

func NewClient(endpoint Endpoint, timeout time.Duration, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}

	config, err := endpoint.DialConfig()
	if err != nil {
		return nil, err
	}
	transport, err := newHTTPTransport(config)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: "http://localhost", // Actual address handled by transport
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}, nil
}

// Deliver makes a single delivery attempt
func (c *Client) Deliver(ctx context.Context, payload Payload) (DeliveryResponse, error) {
	if err := payload.Validate(); err != nil {
		return DeliveryResponse{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResponse{}, errors.NewInternalError("failed to marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/handoff", bytes.NewReader(body))
	if err != nil {
		return DeliveryResponse{}, errors.NewInternalError("failed to build handoff request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeliveryResponse{}, errors.NewNetworkError("failed to deliver payload", err).
			WithContext("kind", payload.Kind)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errResp)
		return DeliveryResponse{}, errors.NewNetworkError("payload rejected by owner", nil).
			WithContext("status", resp.StatusCode).
			WithContext("error", errResp.Error)
	}

	var result DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return DeliveryResponse{}, errors.NewNetworkError("failed to decode handoff response", err)
	}

	c.logger.Debugf("Payload delivered, kind: %s, request: %s", payload.Kind, result.RequestID)
	return result, nil
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return HealthResponse{}, errors.NewInternalError("failed to build health request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthResponse{}, errors.NewNetworkError("failed to query owner health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, errors.NewNetworkError("health check failed", nil).
			WithContext("status", resp.StatusCode)
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return HealthResponse{}, errors.NewNetworkError("failed to decode health response", err)
	}
	return result, nil
}
