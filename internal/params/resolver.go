// Package params resolves the integration parameters handed to the widget at launch,
// including the copy that travels through the OAuth redirect inside the state value.
package params

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xiaot623/paybridge/internal/domain"
)

// DefaultMaxDepth bounds how many nested state values are unwrapped.
const DefaultMaxDepth = 8

// Recognised keys. The pc* names are the ones the platform sends on first load.
const (
	KeyEnvironment    = "environment"
	KeyLanguageTag    = "languageTag"
	KeyConversationID = "conversationId"
	KeyState          = "state"

	aliasEnvironment    = "pcEnvironment"
	aliasLanguageTag    = "pcLangTag"
	aliasConversationID = "pcConversationId"
)

// Source picks the raw parameter string from a location: the query when present,
// otherwise the fragment. Leading '?' and '#' are stripped.
func Source(query, fragment string) string {
	query = strings.TrimPrefix(query, "?")
	if query != "" {
		return query
	}
	return strings.TrimPrefix(fragment, "#")
}

// Resolve parses raw with DefaultMaxDepth.
func Resolve(raw string) (domain.AppParameters, error) {
	return ResolveDepth(raw, DefaultMaxDepth)
}

// ResolveDepth parses a query or fragment string into AppParameters.
//
// When a state key is present its value is decoded and parsed in place of the
// outer string, repeatedly, until a level without state is reached. Levels beyond
// maxDepth and undecodable state values are rejected with a *domain.ParseError.
func ResolveDepth(raw string, maxDepth int) (domain.AppParameters, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	current := raw
	for depth := 0; ; depth++ {
		p, state, hasState := parseLevel(current)
		if !hasState {
			return p, nil
		}
		if depth >= maxDepth {
			return domain.AppParameters{}, &domain.ParseError{
				Source: KeyState,
				Err:    fmt.Errorf("state nested deeper than %d levels", maxDepth),
			}
		}

		decoded, err := decodeState(state)
		if err != nil {
			return domain.AppParameters{}, &domain.ParseError{Source: KeyState, Err: err}
		}
		current = decoded
	}
}

// parseLevel reads one flat level. The first state key wins and stops the scan,
// since everything at this level is replaced by the nested parameters.
func parseLevel(raw string) (domain.AppParameters, string, bool) {
	var p domain.AppParameters
	if raw == "" {
		return p, "", false
	}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")

		switch key {
		case KeyEnvironment, aliasEnvironment:
			p.Environment = decodeValue(value)
		case KeyLanguageTag, aliasLanguageTag:
			p.LanguageTag = decodeValue(value)
		case KeyConversationID, aliasConversationID:
			p.ConversationID = decodeValue(value)
		case KeyState:
			return domain.AppParameters{}, value, true
		}
	}
	return p, "", false
}

// decodeValue percent-decodes a flat value. A literal '+' stays a '+'.
func decodeValue(v string) *string {
	if decoded, err := url.PathUnescape(v); err == nil {
		v = decoded
	}
	return &v
}

// decodeState unwraps a state value. Identity providers may hand the value back
// encoded twice, so a second decode is applied when the first one does not yet
// look like a parameter string.
func decodeState(v string) (string, error) {
	once, err := url.QueryUnescape(v)
	if err != nil {
		return "", fmt.Errorf("decode state: %w", err)
	}
	if strings.ContainsAny(once, "=&") || !strings.Contains(once, "%") {
		return once, nil
	}
	twice, err := url.QueryUnescape(once)
	if err != nil {
		return "", fmt.Errorf("decode state: %w", err)
	}
	return twice, nil
}

// Encode renders p as a parameter string that Resolve maps back to p.
func Encode(p domain.AppParameters) string {
	var parts []string
	add := func(key string, v *string) {
		if v != nil {
			parts = append(parts, key+"="+strings.ReplaceAll(url.QueryEscape(*v), "+", "%20"))
		}
	}
	add(KeyEnvironment, p.Environment)
	add(KeyLanguageTag, p.LanguageTag)
	add(KeyConversationID, p.ConversationID)
	return strings.Join(parts, "&")
}

// Wrap nests raw inside a state value, the way the identity provider returns it.
func Wrap(raw string) string {
	return KeyState + "=" + url.QueryEscape(raw)
}
