package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainarb/chainarb/internal/domain"
)

// Broker submits steps to the external execution broker over HTTP. The
// broker holds the keys, signs, broadcasts, and waits for confirmation; a
// 200 response means the step confirmed on its network. Timeouts come from
// the caller's context, so the engine's per-step deadline bounds the wait.
type Broker struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewBroker creates a Broker posting to url. timeout caps a single HTTP
// exchange independently of the engine's step deadline.
func NewBroker(url, apiKey string, timeout time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "broker")),
	}
}

type stepRequest struct {
	Kind      string  `json:"kind"`
	Network   string  `json:"network"`
	Venue     string  `json:"venue"`
	TokenIn   string  `json:"token_in"`
	TokenOut  string  `json:"token_out"`
	AmountUSD float64 `json:"amount_usd"`
}

type stepResponse struct {
	Ref          string  `json:"ref"`
	AmountOutUSD float64 `json:"amount_out_usd"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
}

// Submit implements engine.Submitter.
func (b *Broker) Submit(ctx context.Context, step domain.Step) (domain.StepReceipt, error) {
	body, err := json.Marshal(stepRequest{
		Kind:      string(step.Kind),
		Network:   step.Network,
		Venue:     step.Venue,
		TokenIn:   step.TokenIn,
		TokenOut:  step.TokenOut,
		AmountUSD: step.AmountUSD,
	})
	if err != nil {
		return domain.StepReceipt{}, fmt.Errorf("broker: marshal step: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/v1/steps", bytes.NewReader(body))
	if err != nil {
		return domain.StepReceipt{}, fmt.Errorf("broker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.StepReceipt{}, fmt.Errorf("broker: submit %s on %s: %w", step.Kind, step.Network, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.StepReceipt{}, fmt.Errorf("broker: submit %s on %s: status %d: %s",
			step.Kind, step.Network, resp.StatusCode, string(respBody))
	}

	var sr stepResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return domain.StepReceipt{}, fmt.Errorf("broker: decode response: %w", err)
	}
	if !sr.Success {
		return domain.StepReceipt{}, fmt.Errorf("broker: %s on %s rejected: %s", step.Kind, step.Network, sr.Error)
	}

	b.logger.Debug("step confirmed",
		slog.String("kind", string(step.Kind)),
		slog.String("network", step.Network),
		slog.String("ref", sr.Ref),
	)
	return domain.StepReceipt{Ref: sr.Ref, AmountOutUSD: sr.AmountOutUSD}, nil
}
