// Package account defines platform account records and at-rest encryption for
// their access tokens.
package account

import "time"

// PlatformAccount links a user to one account on one publishing platform.
// AccessToken is stored AES-GCM encrypted; see crypto.go.
type PlatformAccount struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Platform    string    `json:"platform"`
	Handle      string    `json:"handle"`
	AccessToken []byte    `json:"-"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
