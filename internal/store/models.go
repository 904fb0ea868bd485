package store

import "time"

// PortalRequest is one logged quote request: the portal key ties the CRM
// quote back to the originating portal submission.
type PortalRequest struct {
	ID          string
	PortalKey   string
	QuoteID     string
	AccountName string
	Email       string
	CreatedAt   time.Time
}

// NotificationRecord is one attempted outbound notification. SendError is
// empty on success.
type NotificationRecord struct {
	ID        string
	Kind      string
	Recipient string
	SendError string
	CreatedAt time.Time
}

// APIKey is a portal credential. Only the bcrypt hash is stored.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Disabled  bool
	CreatedAt time.Time
}
