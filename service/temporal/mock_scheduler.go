package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	interval  time.Duration
	exists    bool
	ensureErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// EnsureExpirySchedule records that the schedule was created or updated.
func (m *MockScheduler) EnsureExpirySchedule(ctx context.Context, interval time.Duration) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	m.interval = interval
	return nil
}

// DeleteExpirySchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteExpirySchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return fmt.Errorf("schedule %q not found", ExpiryScheduleID)
	}
	m.exists = false
	return nil
}

// SetEnsureError makes EnsureExpirySchedule return an error.
func (m *MockScheduler) SetEnsureError(err error) {
	m.ensureErr = err
}

// SetDeleteError makes DeleteExpirySchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists reports whether the expiry schedule exists.
func (m *MockScheduler) ScheduleExists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists
}

// ScheduleInterval returns the interval the schedule was last created with.
func (m *MockScheduler) ScheduleInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Reset clears the mock's state.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = false
	m.interval = 0
	m.ensureErr = nil
	m.deleteErr = nil
}
