package domain

import "encoding/json"

// Participant purposes.
const (
	PurposeCustomer = "customer"
	PurposeAgent    = "agent"
)

// Participant attribute keys carrying the payment session.
const (
	AttrPaymentSessionID = "PCIPalSessionID"
	AttrBearerToken      = "bearer_token"
	AttrRefreshToken     = "refresh_token"
)

// Participant is an actor attached to a conversation.
type Participant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Purpose    string            `json:"purpose"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ConversationSnapshot is the fetched state of the tracked conversation.
// Raw keeps the body exactly as returned so the UI shows every field.
type ConversationSnapshot struct {
	ID           string          `json:"id"`
	Participants []Participant   `json:"participants"`
	Raw          json.RawMessage `json:"-"`
}

// Customer returns the first participant whose purpose is customer.
func (s *ConversationSnapshot) Customer() (*Participant, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Participants {
		if s.Participants[i].Purpose == PurposeCustomer {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// PaymentSession derives the payment session from the customer participant.
// It returns ErrParticipantNotFound when the snapshot has no customer.
func (s *ConversationSnapshot) PaymentSession() (*PaymentSession, error) {
	customer, ok := s.Customer()
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return &PaymentSession{
		SessionID:    customer.Attributes[AttrPaymentSessionID],
		BearerToken:  customer.Attributes[AttrBearerToken],
		RefreshToken: customer.Attributes[AttrRefreshToken],
	}, nil
}
