package domain

import "time"

// Profile is the person record linked to an account at registration time.
// The wider records manager owns richer clinical data; this subsystem only
// persists the registration payload and the account link.
type Profile struct {
	ID        string
	AccountID string // set when the registration is finalized
	FullName  string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
