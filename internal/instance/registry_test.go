package instance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/auth"
	"github.com/xiaot623/paybridge/internal/bootstrap"
	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/handoff"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/platform"
	"github.com/xiaot623/paybridge/internal/repository"
)

type stubPlatform struct {
	connectURI string
}

func (s *stubPlatform) GetMe(context.Context) (*platform.User, error) {
	return &platform.User{ID: "U1", Name: "Agent Smith"}, nil
}

func (s *stubPlatform) CreateChannel(context.Context) (*domain.NotificationChannel, error) {
	return &domain.NotificationChannel{ID: "ch-1", ConnectURI: s.connectURI}, nil
}

func (s *stubPlatform) Subscribe(context.Context, string, ...string) error { return nil }

func (s *stubPlatform) GetConversation(_ context.Context, id string) (*domain.ConversationSnapshot, error) {
	return &domain.ConversationSnapshot{
		ID: id,
		Participants: []domain.Participant{{
			ID:      "p1",
			Purpose: domain.PurposeCustomer,
			Attributes: map[string]string{
				domain.AttrPaymentSessionID: "S1",
				domain.AttrBearerToken:      "B",
				domain.AttrRefreshToken:     "R",
			},
		}},
		Raw: []byte(`{"id":"` + id + `"}`),
	}, nil
}

func newNotificationServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newRegistry(t *testing.T) (*Registry, *repository.SQLiteStore) {
	t.Helper()
	return newRegistryWith(t, Options{DefaultEnvironment: "mypurecloud.com", MaxStateDepth: 8, StopGrace: 10 * time.Millisecond})
}

func newRegistryWith(t *testing.T, opts Options) (*Registry, *repository.SQLiteStore) {
	t.Helper()
	h := hub.NewHub(zap.NewNop())
	go h.Run()
	t.Cleanup(h.Close)

	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stub := &stubPlatform{connectURI: newNotificationServer(t)}
	ho := handoff.New("useast1.pcipal.cloud", "208", nil, store, zap.NewNop())
	reg := NewRegistry(h, store,
		auth.NewImplicitGrant("client-1", "http://localhost:8080/interaction"),
		func(string, string) bootstrap.Platform { return stub },
		ho,
		opts,
		zap.NewNop(),
	)
	return reg, store
}

func TestCreateFirstLaunchWaitsForBootstrap(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	inst, err := reg.Create(ctx, "conversationId=abc&environment=usw2.pure.cloud")
	require.NoError(t, err)

	st := inst.Status()
	assert.Equal(t, domain.StateUninitialized, st.State)
	assert.Equal(t, "abc", st.ConversationID)
	assert.Equal(t, "usw2.pure.cloud", st.Environment)

	rec, err := store.GetInstance(ctx, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.ConversationID)

	// The host's bootstrap signal sends the page to the identity provider.
	require.True(t, inst.Signal(ctx, domain.SignalBootstrap))
	require.Eventually(t, func() bool { return inst.RedirectURL() != "" }, time.Second, 5*time.Millisecond)

	u, err := url.Parse(inst.RedirectURL())
	require.NoError(t, err)
	assert.Equal(t, "login.usw2.pure.cloud", u.Host)
	assert.Equal(t, "conversationId=abc&environment=usw2.pure.cloud", u.Query().Get("state"))
	assert.Equal(t, domain.StateBootstrapping, inst.State())
}

func TestCreateResumeBootstrapsToReady(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	launch := "access_token=tok&expires_in=3600&state=" + url.QueryEscape("conversationId=abc")
	inst, err := reg.Create(ctx, launch)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inst.State() == domain.StateReady }, 2*time.Second, 5*time.Millisecond)

	st := inst.Status()
	assert.Equal(t, "abc", st.ConversationID)
	assert.Equal(t, "Agent Smith", st.User)
	assert.True(t, st.HasPaymentSession)
	assert.JSONEq(t, `{"id":"abc"}`, string(inst.Displayed()))

	form, err := inst.Pay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://useast1.pcipal.cloud/session/208/view/S1/framed/", form.Action)

	rec, err := store.GetInstance(ctx, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, rec.State)
	assert.Equal(t, "U1", rec.UserID)

	assert.True(t, inst.Stop())
	<-inst.Done()
	assert.Equal(t, domain.StateStopped, inst.State())

	_, err = reg.Get(inst.ID())
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	events, err := store.GetEvents(ctx, inst.ID(), 0, []string{string(domain.EventTypeHandoff)}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.NotContains(t, string(events[0].Payload), "B\"")
}

func TestCreateRejectsMalformedState(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Create(context.Background(), "state=%zz")
	var parseErr *domain.ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 0, reg.Count())
}

func TestShutdownStopsEveryInstance(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, "conversationId=a")
	require.NoError(t, err)
	b, err := reg.Create(ctx, "conversationId=b")
	require.NoError(t, err)
	require.Equal(t, 2, reg.Count())

	require.NoError(t, reg.Shutdown(ctx))
	assert.Equal(t, domain.StateStopped, a.State())
	assert.Equal(t, domain.StateStopped, b.State())
	assert.Equal(t, 0, reg.Count())
}

func TestRedirectedInstanceIsReleased(t *testing.T) {
	reg, store := newRegistryWith(t, Options{
		DefaultEnvironment: "mypurecloud.com",
		MaxStateDepth:      8,
		StopGrace:          10 * time.Millisecond,
		RedirectRetention:  50 * time.Millisecond,
	})
	ctx := context.Background()

	var ids []string
	for _, conv := range []string{"a", "b", "c"} {
		inst, err := reg.Create(ctx, "pcConversationId="+conv+"&pcEnvironment=mypurecloud.com")
		require.NoError(t, err)
		require.True(t, inst.Signal(ctx, domain.SignalBootstrap))
		ids = append(ids, inst.ID())
	}
	require.Equal(t, 3, reg.Count())

	require.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		rec, err := store.GetInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateStopped, rec.State)
	}
}

func TestResumedInstanceRemembersAck(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	inst, err := reg.Create(ctx, "access_token=tok&state="+url.QueryEscape("conversationId=abc"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.State() == domain.StateReady }, 2*time.Second, 5*time.Millisecond)

	acked, toast := inst.Acknowledged()
	assert.True(t, acked)
	require.NotNil(t, toast)
	assert.Equal(t, "Bootstrap Complete", toast.Message)
	assert.Equal(t, 1, reg.Count())

	inst.Stop()
}
