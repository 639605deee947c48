package domain

import "fmt"

// AuthSession is the authenticated identity. It only lives in memory.
type AuthSession struct {
	AccessToken string
	ExpiresIn   int
	UserID      string
	DisplayName string
}

// NotificationChannel is a server-allocated notification endpoint.
type NotificationChannel struct {
	ID         string `json:"id"`
	ConnectURI string `json:"connectUri"`
	Expires    string `json:"expires,omitempty"`
}

// PaymentSession carries the third-party session id and its ephemeral tokens.
type PaymentSession struct {
	SessionID    string
	BearerToken  string
	RefreshToken string
}

// ConversationsTopic returns the conversation topic for a user.
func ConversationsTopic(userID string) string {
	return fmt.Sprintf("v2.users.%s.conversations", userID)
}

// Toast is a transient notification raised through the host shell.
type Toast struct {
	ID              string
	Title           string
	Message         string
	Type            string
	ShowCloseButton bool
}
