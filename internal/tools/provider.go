package tools

import (
	"context"

	"github.com/stewardhq/steward/internal/platform"
)

// Provider contributes a category of tools backed by one platform
// capability. Providers are probed and queried with a user-scoped
// client so tool lists reflect that user's access.
type Provider interface {
	// CategoryName identifies the provider in the admin tool toggle
	// settings.
	CategoryName() string

	// IsAvailable reports whether the backing capability is reachable
	// for this user. Unavailable providers are skipped silently.
	IsAvailable(ctx context.Context, pc *platform.Client) bool

	// Tools returns the provider's tools bound to the given client.
	Tools(ctx context.Context, pc *platform.Client) ([]*Tool, error)
}
