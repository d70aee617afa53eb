package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// UpsertPage is the mock implementation of the UpsertPage method.
func (m *MockProvider) UpsertPage(ctx context.Context, url string) (media.Page, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(media.Page), args.Error(1) //nolint:wrapcheck
}

// InsertMedia is the mock implementation of the InsertMedia method.
func (m *MockProvider) InsertMedia(ctx context.Context, records []media.Record) (int64, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}

// ListMedia is the mock implementation of the ListMedia method.
func (m *MockProvider) ListMedia(ctx context.Context, query media.Query) ([]media.Record, int, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]media.Record), args.Int(1), args.Error(2) //nolint:wrapcheck
}

// Ping is the mock implementation of the Ping method.
func (m *MockProvider) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() {
	m.Called()
}
