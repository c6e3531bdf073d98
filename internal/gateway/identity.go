package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"amlwatch/internal/model"
)

// Identity talks to the login endpoint. It never attaches a bearer token and
// never triggers the rejection cascade.
type Identity struct {
	url  string
	http *http.Client
}

func NewIdentity(baseURL, loginPath string, hc *http.Client) *Identity {
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Identity{
		url:  strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(loginPath, "/"),
		http: hc,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (i *Identity) Login(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", model.ErrAuthentication, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("login: read response: %w", err)
	}
	var out loginResponse
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: no token in response", model.ErrAuthentication)
	}
	return out.Token, nil
}
