// Package auth implements the OAuth implicit grant used to identify the agent.
package auth

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/xiaot623/paybridge/internal/domain"
)

// Request carries what the implicit grant needs for one attempt.
type Request struct {
	// Environment selects the login host, e.g. mypurecloud.com.
	Environment string
	// State is the raw launch parameter string; the provider returns it untouched.
	State string
	// Fragment is the redirect fragment handed back by the provider, empty before
	// the browser has been sent to log in.
	Fragment string
}

// ImplicitGrant performs the implicit grant flow with a fixed client and return address.
type ImplicitGrant struct {
	ClientID    string
	RedirectURI string
}

// NewImplicitGrant creates a new ImplicitGrant.
func NewImplicitGrant(clientID, redirectURI string) *ImplicitGrant {
	return &ImplicitGrant{ClientID: clientID, RedirectURI: redirectURI}
}

// LoginURL returns the authorize URL the browser is sent to.
func (g *ImplicitGrant) LoginURL(environment, state string) string {
	q := url.Values{}
	q.Set("response_type", "token")
	q.Set("client_id", g.ClientID)
	q.Set("redirect_uri", g.RedirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return "https://login." + environment + "/oauth/authorize?" + q.Encode()
}

// Authenticate returns the session carried by req.Fragment. Without a token it
// fails with an *domain.AuthError whose RedirectURL the browser must follow;
// the flow then resumes in a new instance once the provider redirects back.
func (g *ImplicitGrant) Authenticate(ctx context.Context, req Request) (*domain.AuthSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.AuthError{Reason: "abandoned", Err: err}
	}

	values, err := url.ParseQuery(strings.TrimPrefix(req.Fragment, "#"))
	if err != nil {
		return nil, &domain.AuthError{Reason: "malformed redirect fragment", Err: err}
	}

	if code := values.Get("error"); code != "" {
		reason := code
		if desc := values.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		return nil, &domain.AuthError{Reason: reason}
	}

	token := values.Get("access_token")
	if token == "" {
		return nil, &domain.AuthError{
			Reason:      "redirect required",
			RedirectURL: g.LoginURL(req.Environment, req.State),
		}
	}

	expiresIn, _ := strconv.Atoi(values.Get("expires_in"))
	return &domain.AuthSession{
		AccessToken: token,
		ExpiresIn:   expiresIn,
	}, nil
}

// IsRedirectResult reports whether a launch string is the provider's redirect
// back to the app, carrying either a token or an error.
func IsRedirectResult(fragment string) bool {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return false
	}
	return values.Get("access_token") != "" || values.Get("error") != ""
}
