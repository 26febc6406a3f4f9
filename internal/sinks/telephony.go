package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/basket/actionbridge/internal/protocol"
)

// TelephonySink places calls through a hosted VoIP provider instead of the
// actor device. Used when the operator prefers server-originated calls.
type TelephonySink struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewTelephonySink(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *TelephonySink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelephonySink{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type callRequest struct {
	To        string `json:"to"`
	RequestID string `json:"request_id"`
	Note      string `json:"note,omitempty"`
}

type callResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

func (s *TelephonySink) Dispatch(ctx context.Context, clientID string, plan protocol.Proposal) error {
	body, err := json.Marshal(callRequest{
		To:        plan.Parameters["to"],
		RequestID: plan.RequestID,
		Note:      plan.Summary,
	})
	if err != nil {
		return &Error{Intent: plan.Intent, Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return &Error{Intent: plan.Intent, Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return &Error{Intent: plan.Intent, Op: "dial", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{
			Intent: plan.Intent,
			Op:     "dial",
			Err:    fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet),
		}
	}

	var cr callResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return &Error{Intent: plan.Intent, Op: "decode", Err: err}
	}
	s.logger.Info("telephony call placed",
		"client_id", clientID,
		"request_id", plan.RequestID,
		"call_id", cr.CallID,
		"status", cr.Status,
	)
	return nil
}
