package params

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/paybridge/internal/domain"
)

func strp(s string) *string { return &s }

func TestResolveRecognisedKeys(t *testing.T) {
	p, err := Resolve("conversationId=abc&environment=mypurecloud.com")
	require.NoError(t, err)

	assert.Equal(t, "abc", p.Conversation())
	require.NotNil(t, p.Environment)
	assert.Equal(t, "mypurecloud.com", *p.Environment)
	assert.Nil(t, p.LanguageTag)
}

func TestResolveEmptyInput(t *testing.T) {
	p, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, domain.AppParameters{}, p)
}

func TestResolveIgnoresUnknownKeys(t *testing.T) {
	p, err := Resolve("foo=bar&languageTag=en-us&&baz")
	require.NoError(t, err)

	assert.Nil(t, p.Environment)
	assert.Nil(t, p.ConversationID)
	require.NotNil(t, p.LanguageTag)
	assert.Equal(t, "en-us", *p.LanguageTag)
}

func TestResolvePlatformAliases(t *testing.T) {
	p, err := Resolve("pcEnvironment=mypurecloud.ie&pcLangTag=fr&pcConversationId=c-1")
	require.NoError(t, err)

	assert.Equal(t, "mypurecloud.ie", p.EnvironmentOr(""))
	assert.Equal(t, "fr", p.Language())
	assert.Equal(t, "c-1", p.Conversation())
}

func TestResolveEmptyValueIsPresent(t *testing.T) {
	p, err := Resolve("environment=")
	require.NoError(t, err)

	require.NotNil(t, p.Environment)
	assert.Equal(t, "", *p.Environment)
	assert.Equal(t, "fallback", p.EnvironmentOr("fallback"))
}

func TestResolveStateReplacesOuterValues(t *testing.T) {
	inner := "environment=usw2.pure.cloud&conversationId=inner"
	raw := "conversationId=stale&" + Wrap(inner) + "&languageTag=ignored"

	p, err := Resolve(raw)
	require.NoError(t, err)

	assert.Equal(t, "inner", p.Conversation())
	assert.Equal(t, "usw2.pure.cloud", p.EnvironmentOr(""))
	assert.Nil(t, p.LanguageTag)
}

func TestResolveRoundTripAtAnyDepth(t *testing.T) {
	want := domain.AppParameters{
		Environment:    strp("mypurecloud.com"),
		LanguageTag:    strp("en-us"),
		ConversationID: strp("6f0a3c1e-1111-4c2b-9d0e-abcdefabcdef"),
	}

	raw := Encode(want)
	for depth := 0; depth <= DefaultMaxDepth; depth++ {
		got, err := Resolve(raw)
		require.NoError(t, err, "depth %d", depth)
		assert.Equal(t, want, got, "depth %d", depth)
		raw = Wrap(raw)
	}
}

func TestResolveDoubleEncodedState(t *testing.T) {
	inner := "pcEnvironment=mypurecloud.com&pcConversationId=abc"
	raw := "access_token=tok&state=" + url.QueryEscape(url.QueryEscape(inner)) + "&expires_in=86399"

	p, err := Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Conversation())
	assert.Equal(t, "mypurecloud.com", p.EnvironmentOr(""))
}

func TestResolveRejectsExcessiveNesting(t *testing.T) {
	raw := Encode(domain.AppParameters{ConversationID: strp("abc")})
	for i := 0; i < 4; i++ {
		raw = Wrap(raw)
	}

	_, err := ResolveDepth(raw, 3)
	require.Error(t, err)

	var perr *domain.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KeyState, perr.Source)

	p, err := ResolveDepth(raw, 4)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Conversation())
}

func TestResolveRejectsMalformedState(t *testing.T) {
	_, err := Resolve("state=%zz")
	var perr *domain.ParseError
	require.True(t, errors.As(err, &perr))
}

func TestEncodeSkipsUnsetKeys(t *testing.T) {
	assert.Equal(t, "conversationId=abc", Encode(domain.AppParameters{ConversationID: strp("abc")}))
	assert.Equal(t, "", Encode(domain.AppParameters{}))
}

func TestSource(t *testing.T) {
	assert.Equal(t, "a=1", Source("?a=1", "#b=2"))
	assert.Equal(t, "b=2", Source("", "#b=2"))
	assert.Equal(t, "", Source("", ""))
}

func TestResolveKeepsLiteralPlus(t *testing.T) {
	p, err := Resolve("conversationId=a+b&languageTag=en%20us")
	require.NoError(t, err)

	assert.Equal(t, "a+b", p.Conversation())
	assert.Equal(t, "en us", p.Language())

	back, err := Resolve(Encode(p))
	require.NoError(t, err)
	assert.Equal(t, p, back)
}
