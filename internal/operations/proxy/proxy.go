package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/huangyocai/mihomo-installer/pkg/tools"
)

const maxBodyBytes = 64 * 1024

var ErrUnauthorized = errors.New("controller rejected the secret")

// VersionInfo is the body of the controller's /version endpoint
type VersionInfo struct {
	Version string `json:"version"`
	Meta    bool   `json:"meta"`
}

// Controller talks to the running core's external controller
type Controller struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewController targets the controller bind address. Wildcard hosts are
// reached over loopback.
func NewController(bind, secret string, timeout time.Duration) (*Controller, error) {
	host, port, err := tools.SplitBindAddress(bind)
	if err != nil {
		return nil, err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return &Controller{
		baseURL:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL is the root of the controller API
func (c *Controller) BaseURL() string {
	return c.baseURL
}

// Version asks the controller which core is running
func (c *Controller) Version(ctx context.Context) (*VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return nil, err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("controller returned %s", resp.Status)
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode version response: %w", err)
	}
	return &info, nil
}
