package lldap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// authTransport injects the operator's bearer token into every request.
// The token is acquired lazily on first use and re-acquired once when the
// directory reports the session expired, so restarts of the directory do
// not wedge the client.
type authTransport struct {
	base     http.RoundTripper
	loginURL string
	username string
	password string

	mu    sync.Mutex
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.currentToken(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	t.invalidate(token)
	token, err = t.currentToken(req)
	if err != nil {
		return nil, err
	}

	resp, err = t.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: token rejected right after login", ErrUnauthorized)
	}
	return resp, nil
}

func (t *authTransport) send(req *http.Request, token string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}

func (t *authTransport) currentToken(req *http.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" {
		return t.token, nil
	}

	payload, err := json.Marshal(loginRequest{Username: t.username, Password: t.password})
	if err != nil {
		return "", err
	}
	loginReq, err := http.NewRequestWithContext(
		req.Context(), http.MethodPost, t.loginURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	loginReq.Header.Set("Content-Type", "application/json")

	resp, err := t.base.RoundTrip(loginReq)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: login returned status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", &StatusError{Endpoint: loginPath, StatusCode: resp.StatusCode}
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.Token == "" {
		return "", fmt.Errorf("login response carried no token")
	}

	t.token = login.Token
	return t.token, nil
}

// invalidate drops the cached token unless another caller already replaced it.
func (t *authTransport) invalidate(stale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == stale {
		t.token = ""
	}
}

// rateLimitedTransport spaces out requests so a burst of reconciles cannot
// hammer the directory.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
