// Package protocol defines the WebSocket message protocol between the widget page and paybridge.
package protocol

import "encoding/json"

// Message types from paybridge to the page
const (
	TypeParams       = "params"
	TypeUser         = "user"
	TypeConversation = "conversation"
	TypeToast        = "toast"
	TypeState        = "state"
	TypeBootstrapped = "bootstrapped"
	TypeStopped      = "stopped"
	TypeRedirect     = "redirect"
	TypeError        = "error"
)

// Message types from the page to paybridge
const (
	TypeSignal = "signal"
)

// Toast types understood by the host shell.
const (
	ToastInfo    = "info"
	ToastSuccess = "success"
	ToastError   = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type       string `json:"type"`
	Ts         int64  `json:"ts"`
	InstanceID string `json:"instance_id,omitempty"`
}

// ParamsMessage echoes the resolved launch parameters.
type ParamsMessage struct {
	BaseMessage
	Environment    *string `json:"environment"`
	LanguageTag    *string `json:"language_tag"`
	ConversationID *string `json:"conversation_id"`
}

// UserMessage carries the authenticated user's display name.
type UserMessage struct {
	BaseMessage
	Name string `json:"name"`
}

// ConversationMessage replaces the conversation shown by the page.
type ConversationMessage struct {
	BaseMessage
	Conversation json.RawMessage `json:"conversation"`
}

// ToastMessage asks the page to raise a toast through the host shell.
type ToastMessage struct {
	BaseMessage
	Title           string `json:"title"`
	Message         string `json:"message"`
	ToastID         string `json:"toast_id"`
	ToastType       string `json:"toast_type,omitempty"`
	ShowCloseButton bool   `json:"show_close_button,omitempty"`
}

// StateMessage reports a lifecycle state change.
type StateMessage struct {
	BaseMessage
	State string `json:"state"`
}

// AckMessage is relayed by the page to the host shell (bootstrapped, stopped).
type AckMessage struct {
	BaseMessage
}

// RedirectMessage sends the page to the identity provider.
type RedirectMessage struct {
	BaseMessage
	URL string `json:"url"`
}

// SignalMessage is sent by the page when the host shell emits a lifecycle signal.
type SignalMessage struct {
	BaseMessage
	Signal string `json:"signal"`
}

// ErrorMessage is sent when a page message cannot be processed.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnknownSignal   = "unknown_signal"
	ErrorCodeInstanceMissing = "instance_missing"
)
