package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/buildrite/sitedash/pkg/payflow"
)

// SmsClient talks to the external SMS gateway over its JSON API and
// implements payflow.SmsGateway. Delivery failures are always surfaced to
// the caller as GatewayError, never swallowed.
type SmsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewSmsClient creates a gateway client for the given base URL.
func NewSmsClient(baseURL, apiKey string) *SmsClient {
	return &SmsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type smsSendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsSendResponse struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send delivers one message through the gateway.
func (c *SmsClient) Send(ctx context.Context, to, body string) (*payflow.MessageResult, error) {
	payload, err := json.Marshal(smsSendRequest{To: to, Body: body})
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "sms", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "sms", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "sms", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &payflow.GatewayError{
			Gateway: "sms",
			Err:     fmt.Errorf("send to %s returned status %d", to, resp.StatusCode),
		}
	}

	var out smsSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &payflow.GatewayError{Gateway: "sms", Err: err}
	}
	if !out.Delivered {
		return &payflow.MessageResult{Delivered: false, ProviderID: out.MessageID, Error: out.Error},
			&payflow.GatewayError{Gateway: "sms", Err: fmt.Errorf("message to %s not delivered: %s", to, out.Error)}
	}
	return &payflow.MessageResult{Delivered: true, ProviderID: out.MessageID}, nil
}
