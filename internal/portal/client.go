package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// The portal must never hang a sync request: every call carries a bounded
// timeout.
const defaultTimeout = 5 * time.Second

// Client is a lightweight REST client for the hosted booking portal.
// The base URL can be overridden per call so the front desk can point one
// request at a different portal instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a portal client with the given default base URL.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// BaseURL returns the configured default portal address.
func (c *Client) BaseURL() string { return c.baseURL }

// ValidateURL checks a caller-supplied portal override before use.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("portal: invalid portal url %q", raw)
	}
	return nil
}

// ListBookings fetches the portal's full current booking snapshot.
func (c *Client) ListBookings(ctx context.Context, baseURL string) ([]Booking, error) {
	var out []Booking
	if err := c.do(ctx, baseURL, http.MethodGet, "/api/bookings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBooking pushes a status/field change for one remote booking.
func (c *Client) UpdateBooking(ctx context.Context, baseURL, id string, update BookingUpdate) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("portal: booking id required")
	}
	return c.do(ctx, baseURL, http.MethodPut, "/api/bookings/"+url.PathEscape(id), update, nil)
}

// PushCharges uploads the charges-by-date-and-specialty snapshot.
func (c *Client) PushCharges(ctx context.Context, baseURL string, snapshot ChargesSnapshot) (*ChargesResult, error) {
	var out ChargesResult
	if err := c.do(ctx, baseURL, http.MethodPost, "/api/sync/charges", snapshot, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PushBookings uploads the upcoming-appointments snapshot.
func (c *Client) PushBookings(ctx context.Context, baseURL string, snapshot BookingsSnapshot) (*BookingsResult, error) {
	var out BookingsResult
	if err := c.do(ctx, baseURL, http.MethodPost, "/api/sync/bookings", snapshot, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping probes portal reachability for the sync status endpoint.
func (c *Client) Ping(ctx context.Context, baseURL string) error {
	_, err := c.ListBookings(ctx, baseURL)
	return err
}

func (c *Client) do(ctx context.Context, baseURL, method, path string, in, out any) error {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = c.baseURL
	}
	if base == "" {
		return fmt.Errorf("portal: no portal url configured")
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("portal: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return fmt.Errorf("portal: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("portal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("portal: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("portal: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("portal: unmarshal response: %w", err)
		}
	}
	return nil
}
