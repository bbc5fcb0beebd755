// Package publisher defines the platform publisher port. Concrete platform
// clients live in adapter packages and register themselves by platform name.
package publisher

import "context"

// Request carries everything a platform client needs to publish one post.
type Request struct {
	Platform  string
	Content   string
	AccountID string
	UserID    string
	// AccessToken is the decrypted per-account token; empty means the
	// adapter falls back to its configured service credential.
	AccessToken string
	// TestMode instructs the publisher to return a preview instead of
	// performing the real side effect.
	TestMode bool
}

// Result is the outcome of a publish attempt.
type Result struct {
	Success        bool   `json:"success"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	Preview        string `json:"preview,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Publisher publishes content to one platform. Publish must be safe to call
// at most once per claimed scheduled post.
type Publisher interface {
	Publish(ctx context.Context, req Request) (*Result, error)
}
