package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/paybridge/internal/domain"
)

func TestGetMeSendsBearerAndExpand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/users/me", r.URL.Path)
		assert.Equal(t, []string{"presence", "authorization"}, r.URL.Query()["expand"])
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"U1","name":"Agent Smith","username":"smith@example.com"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", time.Second)
	user, err := client.GetMe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "U1", user.ID)
	assert.Equal(t, "Agent Smith", user.DisplayName())
}

func TestCreateChannelAndSubscribe(t *testing.T) {
	var gotTopics []SubscriptionTopic
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/notifications/channels":
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"id":"ch-1","connectUri":"wss://streaming.example/channels/ch-1"}`)
		case "/api/v2/notifications/channels/ch-1/subscriptions":
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &gotTopics))
			fmt.Fprint(w, `{"entities":[{"id":"v2.users.U1.conversations"}]}`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", time.Second)
	channel, err := client.CreateChannel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ch-1", channel.ID)
	assert.Equal(t, "wss://streaming.example/channels/ch-1", channel.ConnectURI)

	require.NoError(t, client.Subscribe(context.Background(), channel.ID, domain.ConversationsTopic("U1")))
	assert.Equal(t, []SubscriptionTopic{{ID: "v2.users.U1.conversations"}}, gotTopics)
}

func TestGetConversationKeepsRawBody(t *testing.T) {
	body := `{"id":"abc","participants":[{"id":"p1","purpose":"agent"},{"id":"p2","purpose":"customer","attributes":{"PCIPalSessionID":"s-1"}}],"recordingState":"none"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/conversations/abc", r.URL.Path)
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", time.Second)
	snap, err := client.GetConversation(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, "abc", snap.ID)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "customer", snap.Participants[1].Purpose)
	assert.JSONEq(t, body, string(snap.Raw))
}

func TestPlatformErrorBecomesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Invalid login credentials.","code":"bad.credentials","status":401}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "expired", time.Second)
	_, err := client.GetMe(context.Background())
	require.Error(t, err)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "Invalid login credentials.")
}

func TestCreateChannelRejectsIncompleteChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ch-1"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", time.Second)
	_, err := client.CreateChannel(context.Background())

	var apiErr *domain.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestNetworkFailureBecomesAPIError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "tok", time.Second)
	_, err := client.GetConversation(context.Background(), "abc")

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.StatusCode)
}
