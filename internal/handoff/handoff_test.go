package handoff

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/policy"
	"github.com/xiaot623/paybridge/internal/session"
)

type recordingJournal struct {
	events   []domain.EventType
	payloads []interface{}
}

func (r *recordingJournal) AppendEvent(_ context.Context, _ string, typ domain.EventType, payload interface{}) error {
	r.events = append(r.events, typ)
	r.payloads = append(r.payloads, payload)
	return nil
}

type staticPolicy struct {
	decision policy.Decision
	err      error
}

func (s staticPolicy) Evaluate(context.Context, policy.Input) (policy.Decision, error) {
	return s.decision, s.err
}

func sessionWithPayment(t *testing.T) *session.Context {
	t.Helper()
	sess := session.New("inst-1", domain.AppParameters{}, "")
	require.True(t, sess.SetPaymentSession(&domain.PaymentSession{
		SessionID:    "bef20b9c-8451-4018-96b4-92749345ad00",
		BearerToken:  "bearer-secret",
		RefreshToken: "refresh-secret",
	}))
	return sess
}

func TestActionURL(t *testing.T) {
	h := New("useast1.pcipal.cloud", "208", nil, nil, zap.NewNop())
	assert.Equal(t,
		"https://useast1.pcipal.cloud/session/208/view/bef20b9c-8451-4018-96b4-92749345ad00/framed/",
		h.ActionURL("bef20b9c-8451-4018-96b4-92749345ad00"))
}

func TestPrepareBuildsForm(t *testing.T) {
	journal := &recordingJournal{}
	h := New("useast1.pcipal.cloud", "208", nil, journal, zap.NewNop())

	form, err := h.Prepare(context.Background(), sessionWithPayment(t), domain.StateReady)
	require.NoError(t, err)

	assert.Equal(t, "https://useast1.pcipal.cloud/session/208/view/bef20b9c-8451-4018-96b4-92749345ad00/framed/", form.Action)
	assert.NotContains(t, form.Action, "secret")
	assert.Equal(t, []domain.EventType{domain.EventTypeHandoff}, journal.events)
	assert.NotContains(t, journal.payloads[0], "bearer-secret")

	page, err := form.Render()
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, `method="post"`)
	assert.Contains(t, html, `action="https://useast1.pcipal.cloud/session/208/view/bef20b9c-8451-4018-96b4-92749345ad00/framed/"`)
	assert.Contains(t, html, `name="X-BEARER-TOKEN" value="bearer-secret"`)
	assert.Contains(t, html, `name="X-REFRESH-TOKEN" value="refresh-secret"`)
}

func TestPrepareWithoutPaymentSessionIsInert(t *testing.T) {
	journal := &recordingJournal{}
	h := New("useast1.pcipal.cloud", "208", nil, journal, zap.NewNop())
	sess := session.New("inst-1", domain.AppParameters{}, "")

	form, err := h.Prepare(context.Background(), sess, domain.StateReady)
	assert.Nil(t, form)
	assert.ErrorIs(t, err, ErrInert)
	assert.Equal(t, []domain.EventType{domain.EventTypeHandoffSkipped}, journal.events)
}

func TestPrepareWithEmptySessionIDIsInert(t *testing.T) {
	h := New("useast1.pcipal.cloud", "208", nil, nil, zap.NewNop())
	sess := session.New("inst-1", domain.AppParameters{}, "")
	require.True(t, sess.SetPaymentSession(&domain.PaymentSession{BearerToken: "b"}))

	_, err := h.Prepare(context.Background(), sess, domain.StateReady)
	assert.ErrorIs(t, err, ErrInert)
}

func TestPreparePolicyDeny(t *testing.T) {
	h := New("useast1.pcipal.cloud", "208", staticPolicy{decision: policy.Decision{Reason: "instance not ready"}}, nil, zap.NewNop())

	_, err := h.Prepare(context.Background(), sessionWithPayment(t), domain.StateBootstrapping)
	assert.ErrorIs(t, err, ErrInert)
	assert.Contains(t, err.Error(), "instance not ready")
}

func TestPreparePolicyError(t *testing.T) {
	boom := errors.New("rego failure")
	h := New("useast1.pcipal.cloud", "208", staticPolicy{err: boom}, nil, zap.NewNop())

	_, err := h.Prepare(context.Background(), sessionWithPayment(t), domain.StateReady)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInert)
}

func TestPrepareWithDefaultPolicy(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	h := New("useast1.pcipal.cloud", "208", engine, nil, zap.NewNop())

	form, err := h.Prepare(context.Background(), sessionWithPayment(t), domain.StateFocused)
	require.NoError(t, err)
	assert.NotNil(t, form)

	_, err = h.Prepare(context.Background(), sessionWithPayment(t), domain.StateStopped)
	assert.ErrorIs(t, err, ErrInert)
}

func TestPrepareNeverLogsTokens(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := New("useast1.pcipal.cloud", "208", nil, nil, zap.New(core))

	_, err := h.Prepare(context.Background(), sessionWithPayment(t), domain.StateReady)
	require.NoError(t, err)

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "secret")
		for k, v := range entry.ContextMap() {
			assert.False(t, strings.Contains(k, "token"), "field %s", k)
			assert.NotContains(t, v, "secret")
		}
	}
}

func TestRenderEscapesValues(t *testing.T) {
	form := &Form{Action: "https://pay.example/session/1/view/x/framed/", BearerToken: `"><script>`, RefreshToken: "r"}
	page, err := form.Render()
	require.NoError(t, err)
	assert.NotContains(t, string(page), `"><script>`)
}
