package authaudit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EventType identifies an authentication event
type EventType string

const (
	EventLogin           EventType = "Login"
	EventLoginFailed     EventType = "LoginFailed"
	EventLogout          EventType = "Logout"
	EventTokenRefresh    EventType = "TokenRefresh"
	EventAPIKeyUsed      EventType = "ApiKeyUsed"
	EventAPIKeyCreated   EventType = "ApiKeyCreated"
	EventAPIKeyRevoked   EventType = "ApiKeyRevoked"
	EventPasswordChanged EventType = "PasswordChanged"
	EventAccountLocked   EventType = "AccountLocked"
)

// Entry is one authentication event. Entries are append-only and only
// removed by retention.
type Entry struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	EventType     EventType `gorm:"size:32;not null;index" json:"event_type"`
	UserID        *string   `gorm:"size:64;index" json:"user_id,omitempty"`
	APIKeyID      *string   `gorm:"column:api_key_id;size:64;index" json:"api_key_id,omitempty"`
	Username      *string   `gorm:"size:255;index" json:"username,omitempty"`
	Success       bool      `gorm:"not null;index" json:"success"`
	FailureReason *string   `gorm:"size:255" json:"failure_reason,omitempty"`
	IPAddress     *string   `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent     *string   `gorm:"size:512" json:"user_agent,omitempty"`
	Timestamp     time.Time `gorm:"not null;index" json:"timestamp"`
	MetadataJSON  *string   `gorm:"column:metadata_json;type:text" json:"metadata,omitempty"`
}

// TableName overrides the gorm table name
func (Entry) TableName() string {
	return "auth_audit_log_entries"
}

// SetMetadata stores v as the entry's JSON metadata
func (e *Entry) SetMetadata(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode auth audit metadata: %w", err)
	}
	s := string(b)
	e.MetadataJSON = &s
	return nil
}

// FromRequest copies the client address and user agent of r onto e.
func (e *Entry) FromRequest(r *http.Request) *Entry {
	if r == nil {
		return e
	}
	if ip := ClientIP(r); ip != "" {
		e.IPAddress = &ip
	}
	if ua := r.UserAgent(); ua != "" {
		e.UserAgent = &ua
	}
	return e
}

// ClientIP returns the originating client address, preferring proxy
// headers over the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// LoginSucceeded builds a successful Login event
func LoginSucceeded(userID, username string) *Entry {
	return &Entry{
		EventType: EventLogin,
		UserID:    optional(userID),
		Username:  optional(username),
		Success:   true,
	}
}

// LoginFailed builds a LoginFailed event. userID is empty when the
// username did not match an account.
func LoginFailed(userID, username, reason string) *Entry {
	return &Entry{
		EventType:     EventLoginFailed,
		UserID:        optional(userID),
		Username:      optional(username),
		FailureReason: optional(reason),
	}
}

// APIKeyUsed builds an ApiKeyUsed event
func APIKeyUsed(apiKeyID string, success bool) *Entry {
	return &Entry{
		EventType: EventAPIKeyUsed,
		APIKeyID:  optional(apiKeyID),
		Success:   success,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
