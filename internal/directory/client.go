package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Directory = (*Client)(nil)

// DefaultTimeout bounds each call to a remote directory.
const DefaultTimeout = 5 * time.Second

// Client reaches a directory daemon over HTTP.
type Client struct {
	addr       string
	httpClient *http.Client
}

// NewClient returns a client for the directory at addr. A bare host:port is
// treated as http.
func NewClient(addr string) *Client {
	return &Client{
		addr:       normalizeAddr(addr),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Addr returns the normalized base address.
func (c *Client) Addr() string { return c.addr }

// Exists asks the remote directory whether name is known. Transport
// failures and tagged error outcomes are both returned as errors.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	var resp ExistsResponse
	if err := c.postJSON(ctx, c.addr+ExistsPath, ExistsRequest{ID: name}, &resp); err != nil {
		return false, err
	}
	switch resp.Type {
	case TypeExists:
		return resp.Value, nil
	case TypeError:
		return false, &RemoteError{Reason: resp.Reason}
	default:
		return false, fmt.Errorf("directory: unexpected response type %q", resp.Type)
	}
}

// Register upserts a service descriptor on the remote directory.
func (c *Client) Register(ctx context.Context, s Service) error {
	var resp ErrorResponse
	if err := c.postJSON(ctx, c.addr+RegisterPath, RegisterRequest{Service: s}, &resp); err != nil {
		return err
	}
	if resp.Type == TypeError {
		return &RemoteError{Reason: resp.Reason}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("directory: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var tagged ErrorResponse
		if json.Unmarshal(data, &tagged) == nil && tagged.Type == TypeError && tagged.Reason != "" {
			return &RemoteError{Reason: tagged.Reason}
		}
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}

func normalizeAddr(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}
