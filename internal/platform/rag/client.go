// Package rag forwards patient questions to the retrieval services that
// answer general medical, insurance, medical history and medical report
// queries. The services are opaque: the client only shapes requests and
// responses.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyQuery    = errors.New("query is required")
	ErrUnknownKind   = errors.New("unknown knowledge base")
	ErrNotConfigured = errors.New("knowledge base is not configured")
)

// Kind names a knowledge base.
type Kind string

const (
	KindGeneral        Kind = "general"
	KindInsurance      Kind = "insurance"
	KindMedicalHistory Kind = "medical-history"
	KindMedicalReport  Kind = "medical-report"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindGeneral, KindInsurance, KindMedicalHistory, KindMedicalReport:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// BackendError is a non-2xx answer from a retrieval service.
type BackendError struct {
	Kind       Kind
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %d", e.StatusCode)
}

type Config struct {
	BackendURL        string
	APIKey            string
	MedicalHistoryURL string
	MedicalReportURL  string
	Timeout           time.Duration
}

// Query is what the patient app sends.
type Query struct {
	Query     string `json:"query"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Answer is the reshaped reply of the medical history and report services.
type Answer struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Question string          `json:"question"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type questionResponse struct {
	Answer   json.RawMessage `json:"answer"`
	Question string          `json:"question"`
}

type Client struct {
	cfg  Config
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// Ask sends q to the kind's service and returns the JSON to hand back to
// the caller.
func (c *Client) Ask(ctx context.Context, kind Kind, q Query) (json.RawMessage, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, ErrEmptyQuery
	}
	zerolog.Ctx(ctx).Debug().Str("kind", string(kind)).Str("user_id", q.UserID).Msg("knowledge query")

	switch kind {
	case KindGeneral, KindInsurance:
		return c.proxy(ctx, kind, q)
	case KindMedicalHistory:
		return c.question(ctx, kind, c.cfg.MedicalHistoryURL, q.Query)
	case KindMedicalReport:
		return c.question(ctx, kind, c.cfg.MedicalReportURL, q.Query)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func backendPath(kind Kind) string {
	if kind == KindGeneral {
		return "/api/general-medical-rag"
	}
	return "/api/" + string(kind) + "-rag"
}

func (c *Client) proxy(ctx context.Context, kind Kind, q Query) (json.RawMessage, error) {
	if c.cfg.BackendURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	req := c.http.R().SetContext(ctx).SetBody(q)
	if c.cfg.APIKey != "" {
		req.SetAuthToken(c.cfg.APIKey)
	}
	resp, err := req.Post(strings.TrimRight(c.cfg.BackendURL, "/") + backendPath(kind))
	if err != nil {
		return nil, fmt.Errorf("calling %s knowledge base: %w", kind, err)
	}
	if resp.IsError() {
		return nil, backendError(ctx, kind, resp)
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, &BackendError{Kind: kind, StatusCode: resp.StatusCode(), Body: "invalid JSON response"}
	}
	return json.RawMessage(body), nil
}

func (c *Client) question(ctx context.Context, kind Kind, url, query string) (json.RawMessage, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(questionRequest{Question: query}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("calling %s knowledge base: %w", kind, err)
	}
	if resp.IsError() {
		return nil, backendError(ctx, kind, resp)
	}
	// The services do not always label their JSON, so decode regardless of
	// Content-Type.
	var out questionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &BackendError{Kind: kind, StatusCode: resp.StatusCode(), Body: "invalid JSON response"}
	}
	if len(out.Answer) == 0 {
		out.Answer = json.RawMessage("null")
	}
	return json.Marshal(Answer{Success: true, Data: out.Answer, Question: out.Question})
}

func backendError(ctx context.Context, kind Kind, resp *resty.Response) error {
	zerolog.Ctx(ctx).Error().
		Str("kind", string(kind)).
		Int("status_code", resp.StatusCode()).
		Str("body", resp.String()).
		Msg("knowledge backend error")
	return &BackendError{Kind: kind, StatusCode: resp.StatusCode(), Body: resp.String()}
}
