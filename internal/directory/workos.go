package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api.workos.com"
	defaultTimeout = 10 * time.Second
)

// ClientConfig configures a WorkOSClient
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// WorkOSClient implements Adapter against the WorkOS organizations and user-management API.
// The API key is sent as a bearer token by an oauth2 static token source.
type WorkOSClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWorkOSClient creates a client. An empty API key is rejected.
func NewWorkOSClient(cfg ClientConfig) (*WorkOSClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.APIKey,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = timeout

	return &WorkOSClient{baseURL: baseURL, httpClient: httpClient}, nil
}

// CreateOrganization creates an organization keyed by in.ExternalKey
func (c *WorkOSClient) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*Organization, error) {
	body := map[string]interface{}{
		"name":        in.Name,
		"external_id": in.ExternalKey,
	}

	var org Organization
	if err := c.do(ctx, "create_organization", http.MethodPost, "/organizations", body, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganizationByExternalKey looks up an organization by its external key
func (c *WorkOSClient) GetOrganizationByExternalKey(ctx context.Context, externalKey string) (*Organization, error) {
	path := "/organizations/external_id/" + url.PathEscape(externalKey)

	var org Organization
	err := c.do(ctx, "get_organization", http.MethodGet, path, nil, &org)
	if err != nil {
		if de, ok := err.(*Error); ok && de.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

// SendInvitation issues an invitation email through the provider
func (c *WorkOSClient) SendInvitation(ctx context.Context, in SendInvitationInput) (*Invite, error) {
	body := map[string]interface{}{
		"email": in.Email,
	}
	if in.OrganizationID != "" {
		body["organization_id"] = in.OrganizationID
	}
	if in.InviterUserID != "" {
		body["inviter_user_id"] = in.InviterUserID
	}
	if in.ExpiresInDays > 0 {
		body["expires_in_days"] = in.ExpiresInDays
	}

	var invite Invite
	if err := c.do(ctx, "send_invitation", http.MethodPost, "/user_management/invitations", body, &invite); err != nil {
		return nil, err
	}
	return &invite, nil
}

// RevokeInvitation revokes a pending provider invitation
func (c *WorkOSClient) RevokeInvitation(ctx context.Context, inviteID string) error {
	path := "/user_management/invitations/" + url.PathEscape(inviteID) + "/revoke"
	return c.do(ctx, "revoke_invitation", http.MethodPost, path, nil, nil)
}

// apiError is the provider's error body. Older endpoints use error/error_description.
type apiError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *WorkOSClient) do(ctx context.Context, operation, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &Error{Operation: operation, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Operation: operation, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var ae apiError
		_ = json.Unmarshal(raw, &ae)

		de := &Error{Operation: operation, StatusCode: resp.StatusCode, Code: ae.Code, Message: ae.Message}
		if de.Code == "" {
			de.Code = ae.Error
		}
		if de.Message == "" {
			de.Message = ae.ErrorDescription
		}
		if de.Code == "" && de.Message == "" {
			de.Message = strings.TrimSpace(string(raw))
		}
		return de
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
