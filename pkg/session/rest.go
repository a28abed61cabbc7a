package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// restClient talks to the backend endpoints that allocate and validate
// assist codes. The server stays authoritative for code expiry and for the
// one-guest-per-code exclusivity.
type restClient struct {
	base   string
	client *http.Client
}

func newRestClient(base string) *restClient {
	return &restClient{base: base, client: &http.Client{Timeout: 10 * time.Second}}
}

type (
	createRequest struct {
		ClientId string `json:"clientId"`
	}
	createResponse struct {
		AssistCode string `json:"assistCode,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	joinRequest struct {
		ClientId   string `json:"clientId"`
		AssistCode string `json:"assistCode"`
	}
	joinResponse struct {
		Success bool   `json:"success,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	closeRequest struct {
		ClientId string `json:"clientId"`
	}
)

func (r *restClient) CreateSession(ctx context.Context, clientId string) (string, error) {
	var out createResponse
	if err := r.post(ctx, "/assist/sessions", createRequest{ClientId: clientId}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("create session: %s", out.Error)
	}
	if out.AssistCode == "" {
		return "", fmt.Errorf("create session: empty assist code")
	}
	return out.AssistCode, nil
}

func (r *restClient) JoinSession(ctx context.Context, clientId, assistCode string) error {
	var out joinResponse
	if err := r.post(ctx, "/assist/sessions/join", joinRequest{ClientId: clientId, AssistCode: assistCode}, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return fmt.Errorf("join session: %s", out.Error)
	}
	if !out.Success {
		return fmt.Errorf("join session: rejected")
	}
	return nil
}

// CloseSession is best-effort, the response body is ignored.
func (r *restClient) CloseSession(ctx context.Context, clientId string) error {
	return r.post(ctx, "/assist/sessions/close", closeRequest{ClientId: clientId}, nil)
}

func (r *restClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
