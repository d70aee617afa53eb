package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// MockBackend is a mock implementation of the Backend interface for testing.
type MockBackend struct {
	mock.Mock
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockBackend) Enqueue(ctx context.Context, req media.ScrapeRequest, opts media.JobOptions) (string, error) {
	args := m.Called(ctx, req, opts)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// Get is the mock implementation of the Get method.
func (m *MockBackend) Get(ctx context.Context, id string) (media.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(media.Job), args.Error(1) //nolint:wrapcheck
}

// Counts is the mock implementation of the Counts method.
func (m *MockBackend) Counts(ctx context.Context) (media.QueueCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(media.QueueCounts), args.Error(1) //nolint:wrapcheck
}

// Consume is the mock implementation of the Consume method.
func (m *MockBackend) Consume(ctx context.Context, handler media.JobHandler, concurrency int) error {
	args := m.Called(ctx, handler, concurrency)
	return args.Error(0) //nolint:wrapcheck
}

// Ping is the mock implementation of the Ping method.
func (m *MockBackend) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}

var _ Backend = (*MockBackend)(nil)
