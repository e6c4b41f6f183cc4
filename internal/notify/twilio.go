// Package notify sends SMS and places voice calls through the Twilio REST
// API. With no credentials configured it runs in mock mode: messages are
// logged and synthetic SIDs returned, which keeps dev and test flows alive.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string // overridable for tests
	publicBase string // where Twilio fetches TwiML and posts DTMF
	http       *http.Client
}

type Config struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
}

func NewClient(cfg Config) *Client {
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    twilioAPIBase,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// configured reports whether real credentials are present. Placeholder
// values from sample env files count as unconfigured.
func (c *Client) configured() bool {
	if c.accountSID == "" || c.authToken == "" || c.fromNumber == "" {
		return false
	}
	return !strings.HasPrefix(c.accountSID, "your-") && !strings.HasPrefix(c.authToken, "your-")
}

// SendSMS delivers a text message and returns the Twilio message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if !c.configured() {
		log.Printf("notify: [mock sms] to=%s body=%q", to, body)
		return "MOCK_SMS_SID", nil
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.fromNumber)
	form.Set("Body", body)

	return c.post(ctx, fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID), form)
}

// StartVoiceCall places an outbound call. Twilio fetches the call-control
// TwiML from our voice webhook, parameterized by incident id.
func (c *Client) StartVoiceCall(ctx context.Context, to, incidentID string) (string, error) {
	if !c.configured() {
		log.Printf("notify: [mock call] to=%s incident=%s", to, incidentID)
		return "MOCK_CALL_SID", nil
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.fromNumber)
	form.Set("Url", fmt.Sprintf("%s/twilio/voice/%s", c.publicBase, incidentID))
	form.Set("Method", "POST")

	return c.post(ctx, fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID), form)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.SID == "" {
		return "", fmt.Errorf("twilio response missing sid")
	}
	return parsed.SID, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
