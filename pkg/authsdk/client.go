package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DeviceHeader names the device a session is created from.
const DeviceHeader = "X-Device-Name"

// SDKClient is a client for the sessionguard authentication service.
// It provides access to unauthenticated operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Device is sent as X-Device-Name on login and renew so the session list
	// shows something friendlier than the User-Agent.
	Device string
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *SDKClient) deviceHeaders() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.Device != "" {
		h[DeviceHeader] = c.Device
	}
	return h
}

// LoginPair exchanges an identifier and secret for a token pair.
func (c *SDKClient) LoginPair(ctx context.Context, identifier, secret string) (*TokenPair, error) {
	body, err := jsonBody(LoginRequest{Identifier: identifier, Secret: secret})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/login", body, c.deviceHeaders())
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Renew exchanges a renewal credential for a new pair. The old renewal
// credential must not be used again.
func (c *SDKClient) Renew(ctx context.Context, renewal string) (*TokenPair, error) {
	body, err := jsonBody(RenewRequest{Renewal: renewal})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/renew", body, c.deviceHeaders())
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Login authenticates and returns a Session that renews itself.
func (c *SDKClient) Login(ctx context.Context, identifier, secret string) (*Session, error) {
	pair, err := c.LoginPair(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	return newSession(c, pair), nil
}

// NewSessionFromTokens creates a Session from a previously issued pair.
func (c *SDKClient) NewSessionFromTokens(pair TokenPair) *Session {
	return newSession(c, &pair)
}

// GetLiveness checks if the service is alive.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}
