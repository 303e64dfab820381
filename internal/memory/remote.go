package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haricheung/memexcli/internal/types"
)

// Remote is an HTTP-backed Facade talking to the memory service endpoints in
// spec §6 (POST /v1/qa/search, /hit, /candidates, /validate).
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemote creates a Remote client. baseURL has any trailing slash and
// "/v1/qa" suffix stripped so callers can pass either form.
func NewRemote(baseURL, apiKey string) *Remote {
	return &Remote{
		baseURL:    normalizeBaseURL(baseURL),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/v1/qa")
}

func (r *Remote) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", types.ErrMemory, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", types.ErrMemory, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", types.ErrMemory, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", types.ErrMemory, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d: %s", types.ErrMemory, resp.StatusCode, string(raw))
	}
	if respBody == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", types.ErrMemory, err)
	}
	return nil
}

type searchRequest struct {
	ProjectID string  `json:"project_id"`
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	MinScore  float64 `json:"min_score"`
}

type searchResponse struct {
	Results []types.QARecord `json:"results"`
}

func (r *Remote) Search(ctx context.Context, payload SearchPayload) ([]types.QARecord, error) {
	limit := payload.Limit
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	var resp searchResponse
	err := r.doJSON(ctx, http.MethodPost, "/v1/qa/search", searchRequest{
		ProjectID: payload.ProjectID,
		Query:     payload.Query,
		Limit:     limit,
		MinScore:  payload.MinScore,
	}, &resp)
	return resp.Results, err
}

type hitRequest struct {
	ProjectID string          `json:"project_id"`
	Refs      []types.HitRef  `json:"refs"`
}

func (r *Remote) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	return r.doJSON(ctx, http.MethodPost, "/v1/qa/hit", hitRequest{ProjectID: projectID, Refs: refs}, nil)
}

type validateRequest struct {
	ProjectID string            `json:"project_id"`
	QAID      string            `json:"qa_id"`
	Result    ValidationOutcome `json:"result"`
	Notes     string            `json:"notes,omitempty"`
}

func (r *Remote) RecordValidation(ctx context.Context, projectID, qaID string, result ValidationOutcome, notes string) error {
	return r.doJSON(ctx, http.MethodPost, "/v1/qa/validate", validateRequest{
		ProjectID: projectID, QAID: qaID, Result: result, Notes: notes,
	}, nil)
}

func (r *Remote) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	return r.doJSON(ctx, http.MethodPost, "/v1/qa/candidates", draft, nil)
}

type gradeRequest struct {
	Prompt string `json:"prompt"`
}

type gradeResponse struct {
	Level string `json:"level"`
}

func (r *Remote) TaskGrade(ctx context.Context, prompt string) (Grade, error) {
	var resp gradeResponse
	if err := r.doJSON(ctx, http.MethodPost, "/v1/qa/grade", gradeRequest{Prompt: prompt}, &resp); err != nil {
		return Grade{}, err
	}
	return Grade{Level: resp.Level}, nil
}

func (r *Remote) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

var _ Facade = (*Remote)(nil)
