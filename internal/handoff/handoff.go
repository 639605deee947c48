// Package handoff builds the one-shot form that carries the payment session
// tokens to the external payment capture page.
package handoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"

	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/policy"
	"github.com/xiaot623/paybridge/internal/session"
)

// Hidden field names expected by the payment page.
const (
	FieldBearerToken  = "X-BEARER-TOKEN"
	FieldRefreshToken = "X-REFRESH-TOKEN"
)

// ErrInert is returned when the handoff is a no-op.
var ErrInert = errors.New("payment handoff unavailable")

// Policy decides whether a handoff may proceed.
type Policy interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

// Journal records handoff attempts.
type Journal interface {
	AppendEvent(ctx context.Context, instanceID string, typ domain.EventType, payload interface{}) error
}

// Form is a single-use auto-submitting POST form.
type Form struct {
	Action       string
	BearerToken  string
	RefreshToken string
}

var formTemplate = template.Must(template.New("handoff").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="referrer" content="no-referrer"><title>Payment</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
<input type="hidden" name="X-BEARER-TOKEN" value="{{.BearerToken}}">
<input type="hidden" name="X-REFRESH-TOKEN" value="{{.RefreshToken}}">
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// Render writes the form document.
func (f *Form) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, f); err != nil {
		return nil, fmt.Errorf("failed to render handoff form: %w", err)
	}
	return buf.Bytes(), nil
}

// Handoff launches the payment capture page for a session.
type Handoff struct {
	region    string
	productID string
	policy    Policy
	journal   Journal
	log       *zap.Logger
}

// New creates a Handoff. policy and journal may be nil.
func New(region, productID string, p Policy, j Journal, log *zap.Logger) *Handoff {
	return &Handoff{
		region:    region,
		productID: productID,
		policy:    p,
		journal:   j,
		log:       log.Named("handoff"),
	}
}

// ActionURL is the payment page address for sessionID. It never carries tokens.
func (h *Handoff) ActionURL(sessionID string) string {
	return "https://" + h.region + "/session/" + url.PathEscape(h.productID) +
		"/view/" + url.PathEscape(sessionID) + "/framed/"
}

// Prepare returns the form for the session's payment session. Without a
// payment session, or when the policy denies, it logs and returns ErrInert.
func (h *Handoff) Prepare(ctx context.Context, sess *session.Context, state domain.State) (*Form, error) {
	log := h.log.With(zap.String("instance_id", sess.ID()))
	ps, ok := sess.PaymentSession()
	ok = ok && ps.SessionID != ""

	if h.policy != nil {
		d, err := h.policy.Evaluate(ctx, policy.Input{
			State:             string(state),
			HasPaymentSession: ok,
			Region:            h.region,
		})
		if err != nil {
			metrics.RecordHandoff(metrics.ResultFailed)
			return nil, err
		}
		if !d.Allow {
			return nil, h.skip(ctx, log, sess.ID(), d.Reason)
		}
	} else if !ok {
		return nil, h.skip(ctx, log, sess.ID(), "payment session not set")
	}

	log.Info("handing off to payment page", zap.String("session_id", ps.SessionID))
	metrics.RecordHandoff(metrics.ResultSubmitted)
	h.record(ctx, log, sess.ID(), domain.EventTypeHandoff, map[string]interface{}{"session_id": ps.SessionID})

	return &Form{
		Action:       h.ActionURL(ps.SessionID),
		BearerToken:  ps.BearerToken,
		RefreshToken: ps.RefreshToken,
	}, nil
}

func (h *Handoff) skip(ctx context.Context, log *zap.Logger, instanceID, reason string) error {
	log.Info("payment handoff skipped", zap.String("reason", reason))
	metrics.RecordHandoff(metrics.ResultSkipped)
	h.record(ctx, log, instanceID, domain.EventTypeHandoffSkipped, map[string]interface{}{"reason": reason})
	return fmt.Errorf("%w: %s", ErrInert, reason)
}

func (h *Handoff) record(ctx context.Context, log *zap.Logger, instanceID string, typ domain.EventType, payload interface{}) {
	if h.journal == nil {
		return
	}
	if err := h.journal.AppendEvent(ctx, instanceID, typ, payload); err != nil {
		log.Warn("failed to journal handoff", zap.Error(err))
	}
}
