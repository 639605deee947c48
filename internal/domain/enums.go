// Package domain defines the core domain models for the interaction bridge.
package domain

// State represents the lifecycle state of an app instance.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateBootstrapping State = "BOOTSTRAPPING"
	StateReady         State = "READY"
	StateFocused       State = "FOCUSED"
	StateBlurred       State = "BLURRED"
	StateStopping      State = "STOPPING"
	StateStopped       State = "STOPPED"
)

// Operational reports whether the instance finished bootstrapping and has not been stopped.
func (s State) Operational() bool {
	switch s {
	case StateReady, StateFocused, StateBlurred:
		return true
	}
	return false
}

// Terminal reports whether stop has been accepted.
func (s State) Terminal() bool {
	return s == StateStopping || s == StateStopped
}

// Signal is a lifecycle notification sent by the hosting shell.
type Signal string

const (
	SignalBootstrap Signal = "bootstrap"
	SignalFocus     Signal = "focus"
	SignalBlur      Signal = "blur"
	SignalStop      Signal = "stop"
)

// ParseSignal maps a route parameter to a Signal.
func ParseSignal(s string) (Signal, bool) {
	switch Signal(s) {
	case SignalBootstrap, SignalFocus, SignalBlur, SignalStop:
		return Signal(s), true
	}
	return "", false
}

// EventType represents the type of a journal event.
type EventType string

const (
	EventTypeInstanceCreated  EventType = "instance_created"
	EventTypeStateChanged     EventType = "state_changed"
	EventTypeStageSucceeded   EventType = "stage_succeeded"
	EventTypeStageFailed      EventType = "stage_failed"
	EventTypePaymentSessionOK EventType = "payment_session_found"
	EventTypeNoCustomer       EventType = "customer_not_found"
	EventTypeHandoff          EventType = "handoff"
	EventTypeHandoffSkipped   EventType = "handoff_skipped"
)

// Stage names the steps of the bootstrap pipeline.
type Stage string

const (
	StageAuthenticate    Stage = "authenticate"
	StageFetchIdentity   Stage = "fetch_identity"
	StageCreateChannel   Stage = "create_channel"
	StageOpenConnection  Stage = "open_connection"
	StageSubscribe       Stage = "subscribe"
	StageFetchSnapshot   Stage = "fetch_conversation"
	StageExtractPayment  Stage = "extract_payment_session"
	StageSignalReady     Stage = "signal_ready"
)
