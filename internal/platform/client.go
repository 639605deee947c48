// Package platform provides an HTTP client for the contact-center platform REST API.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/xiaot623/paybridge/internal/domain"
)

// BaseURL returns the API base URL for a platform environment, e.g. mypurecloud.com.
func BaseURL(environment string) string {
	return "https://api." + environment
}

// Client is an HTTP client for the platform API, bound to one access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new platform client. A zero timeout means no client timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// User is the authenticated user's profile.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// DisplayName prefers the user's name over the login.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// SubscriptionTopic is one entry of a channel subscription request.
type SubscriptionTopic struct {
	ID string `json:"id"`
}

// subscriptionResponse is the body returned when topics are added to a channel.
type subscriptionResponse struct {
	Entities []SubscriptionTopic `json:"entities"`
}

// ErrorResponse represents an error body from the platform.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
}

// GetMe calls GET /api/v2/users/me.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	q := url.Values{}
	q.Add("expand", "presence")
	q.Add("expand", "authorization")

	var user User
	if err := c.do(ctx, "get user", http.MethodGet, "/api/v2/users/me?"+q.Encode(), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateChannel calls POST /api/v2/notifications/channels.
func (c *Client) CreateChannel(ctx context.Context) (*domain.NotificationChannel, error) {
	var channel domain.NotificationChannel
	if err := c.do(ctx, "create channel", http.MethodPost, "/api/v2/notifications/channels", nil, &channel); err != nil {
		return nil, err
	}
	if channel.ID == "" || channel.ConnectURI == "" {
		return nil, &domain.APIError{Op: "create channel", Err: fmt.Errorf("channel response missing id or connectUri")}
	}
	return &channel, nil
}

// Subscribe calls POST /api/v2/notifications/channels/:channel_id/subscriptions.
func (c *Client) Subscribe(ctx context.Context, channelID string, topics ...string) error {
	req := make([]SubscriptionTopic, 0, len(topics))
	for _, t := range topics {
		req = append(req, SubscriptionTopic{ID: t})
	}

	path := fmt.Sprintf("/api/v2/notifications/channels/%s/subscriptions", url.PathEscape(channelID))
	var resp subscriptionResponse
	return c.do(ctx, "subscribe", http.MethodPost, path, req, &resp)
}

// GetConversation calls GET /api/v2/conversations/:conversation_id.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationSnapshot, error) {
	path := "/api/v2/conversations/" + url.PathEscape(conversationID)

	var raw json.RawMessage
	if err := c.do(ctx, "get conversation", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var snapshot domain.ConversationSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, &domain.APIError{Op: "get conversation", Err: fmt.Errorf("failed to decode conversation: %w", err)}
	}
	snapshot.Raw = []byte(raw)
	return &snapshot, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return &domain.APIError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &domain.APIError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &domain.APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return &domain.APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", errResp.Message)}
		}
		return &domain.APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(respBody)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.APIError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
