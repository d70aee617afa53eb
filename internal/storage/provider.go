// Package storage defines the persistence contract for scraped pages and
// their media. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// Provider is a complete persistence backend.
type Provider interface {
	media.Store
	media.Lister
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend resources.
	Close()
}
