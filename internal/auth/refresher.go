package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRefresher exchanges the current token for a fresh one by calling
// the auth service's refresh endpoint. The endpoint is treated as a
// black box returning {"token": "..."} or an error status.
type HTTPRefresher struct {
	endpoint string
	http     *http.Client
	creds    *CredentialStore
}

// NewHTTPRefresher creates a refresher against endpoint.
func NewHTTPRefresher(endpoint string, creds *CredentialStore) *HTTPRefresher {
	return &HTTPRefresher{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		creds:    creds,
	}
}

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token string `json:"token"`
}

// Refresh requests a new token from the auth service.
func (r *HTTPRefresher) Refresh(ctx context.Context) (string, error) {
	payload, err := json.Marshal(refreshRequest{Token: r.creds.Token()})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if parsed.Token == "" {
		return "", errors.New("refresh response missing token")
	}

	return parsed.Token, nil
}
