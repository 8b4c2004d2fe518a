// Package gatewayclient is the door device's view of the write gateway: it
// downloads allowlists and uploads pending scans.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"turnstile.app/internal/allowlist"
	"turnstile.app/internal/offline"
)

const defaultTimeout = 15 * time.Second

// Error is a failure reported by the gateway envelope.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s (%d): %s", e.Code, e.Status, e.Message)
}

// Client calls gateway functions with a staff session token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// DownloadAllowlist fetches the event secret and hashed entries.
func (c *Client) DownloadAllowlist(ctx context.Context, eventID string) ([]byte, []allowlist.Entry, error) {
	var out struct {
		EventID string            `json:"eventId"`
		Secret  string            `json:"secret"`
		Entries []allowlist.Entry `json:"entries"`
	}
	if err := c.call(ctx, "checkin-allowlist", map[string]string{"eventId": eventID}, &out); err != nil {
		return nil, nil, err
	}
	secret, err := allowlist.DecodeSecret(out.Secret)
	if err != nil {
		return nil, nil, fmt.Errorf("allowlist for %s: %w", eventID, err)
	}
	return secret, out.Entries, nil
}

type scan struct {
	QRToken   string    `json:"qrToken"`
	ScannedAt time.Time `json:"scannedAt"`
	ScannedBy string    `json:"scannedBy,omitempty"`
}

// UploadScans sends one batch and returns the tokens the gateway acknowledged.
func (c *Client) UploadScans(ctx context.Context, eventID string, scans []offline.PendingScan) ([]string, error) {
	body := struct {
		EventID string `json:"eventId"`
		Scans   []scan `json:"scans"`
	}{EventID: eventID, Scans: make([]scan, 0, len(scans))}
	for _, s := range scans {
		body.Scans = append(body.Scans, scan{QRToken: s.QRToken, ScannedAt: s.ScannedAt, ScannedBy: s.ScannedBy})
	}
	var out struct {
		Acknowledged []string `json:"acknowledged"`
	}
	if err := c.call(ctx, "checkin-sync", body, &out); err != nil {
		return nil, err
	}
	return out.Acknowledged, nil
}

var _ offline.Uploader = (*Client)(nil)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, function string, in, out any) error {
	if c.BaseURL == "" {
		return errors.New("gatewayclient: base URL is required")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/functions/v1/"+function, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", function, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Code: "bad_response", Message: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
	}
	if !env.OK {
		e := &Error{Code: "unknown", Message: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
		if env.Error != nil {
			e.Code, e.Message = env.Error.Code, env.Error.Message
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", function, err)
	}
	return nil
}
