package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pupitre/access/internal/model"
)

// IntrospectValidator asks the identity provider directly instead of
// verifying locally. Used when the deployment does not distribute the
// provider's public key.
type IntrospectValidator struct {
	url        string
	httpClient *http.Client
}

func NewIntrospectValidator(url string, timeout time.Duration) *IntrospectValidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IntrospectValidator{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active    bool   `json:"active"`
	SubjectID string `json:"sub"`
	Email     string `json:"email,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

func (v *IntrospectValidator) Validate(ctx context.Context, token string) (model.Subject, error) {
	payload, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return model.Subject{}, model.ErrUpstreamUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return model.Subject{}, model.ErrUpstreamUnavailable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return model.Subject{}, model.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return model.Subject{}, model.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return model.Subject{}, model.ErrUpstreamUnavailable
	}

	var body introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Subject{}, model.ErrUpstreamUnavailable
	}
	expiresAt := time.Unix(body.ExpiresAt, 0).UTC()
	if !body.Active || body.SubjectID == "" || expiresAt.Before(time.Now().UTC()) {
		return model.Subject{}, model.ErrUnauthenticated
	}
	return model.Subject{
		ID:        body.SubjectID,
		Email:     body.Email,
		ExpiresAt: expiresAt,
	}, nil
}
