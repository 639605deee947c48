package domain

// AppParameters are the integration parameters the host passes at launch.
// A nil field means the key was not present.
type AppParameters struct {
	Environment    *string `json:"environment"`
	LanguageTag    *string `json:"languageTag"`
	ConversationID *string `json:"conversationId"`
}

// EnvironmentOr returns the environment or def when unset.
func (p AppParameters) EnvironmentOr(def string) string {
	if p.Environment == nil || *p.Environment == "" {
		return def
	}
	return *p.Environment
}

// Conversation returns the tracked conversation id, "" when unresolved.
func (p AppParameters) Conversation() string {
	if p.ConversationID == nil {
		return ""
	}
	return *p.ConversationID
}

// Language returns the language tag, "" when unset.
func (p AppParameters) Language() string {
	if p.LanguageTag == nil {
		return ""
	}
	return *p.LanguageTag
}
