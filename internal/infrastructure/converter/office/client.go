package office

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client talks to a persistent headless document-suite listener over HTTP.
// Endpoints of the form unix:///path/to.sock dial a unix socket.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(endpoint string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("office endpoint is empty")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	baseURL := strings.TrimRight(endpoint, "/")

	if socket, ok := strings.CutPrefix(endpoint, "unix://"); ok {
		if socket == "" {
			return nil, fmt.Errorf("office unix socket path is empty")
		}
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socket)
		}
		baseURL = "http://office"
	}

	return &Client{
		baseURL: baseURL,
		// Per-call deadlines come from the request context.
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// Ping checks that the listener answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("office ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return formatStatusError("ping", resp)
	}
	return nil
}
