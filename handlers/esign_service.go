package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/buildrite/sitedash/pkg/payflow"
)

// EsignClient routes payment applications for e-signature and implements
// payflow.SignatureGateway.
type EsignClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewEsignClient(baseURL, apiKey string) *EsignClient {
	return &EsignClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type esignRequest struct {
	PaymentAppID uint `json:"payment_app_id"`
}

type esignResponse struct {
	EnvelopeID  string `json:"envelope_id"`
	DocumentURL string `json:"document_url"`
}

// RequestSignature generates the pay-app package and opens an envelope.
func (c *EsignClient) RequestSignature(ctx context.Context, paymentAppID uint) (*payflow.Envelope, error) {
	payload, err := json.Marshal(esignRequest{PaymentAppID: paymentAppID})
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/envelopes", bytes.NewReader(payload))
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &payflow.GatewayError{
			Gateway: "esign",
			Err:     fmt.Errorf("envelope for payment application %d returned status %d", paymentAppID, resp.StatusCode),
		}
	}

	var out esignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: err}
	}
	envID, err := uuid.Parse(out.EnvelopeID)
	if err != nil {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: fmt.Errorf("bad envelope id %q: %w", out.EnvelopeID, err)}
	}
	return &payflow.Envelope{EnvelopeID: envID, DocumentURL: out.DocumentURL}, nil
}
