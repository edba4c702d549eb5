package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests. It records every event
// and can be primed to fail.
type MockPublisher struct {
	mu                sync.Mutex
	transactionEvents []*TransactionEvent
	genomeEvents      []*GenomeEvent
	publishErr        error
	closed            bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTransaction records a transaction event.
func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.transactionEvents = append(m.transactionEvents, event)
	return nil
}

// PublishGenome records a genome event.
func (m *MockPublisher) PublishGenome(ctx context.Context, event *GenomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.genomeEvents = append(m.genomeEvents, event)
	return nil
}

// Close marks the publisher closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetPublishError makes subsequent publishes return err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// TransactionEvents returns a copy of the recorded transaction events.
func (m *MockPublisher) TransactionEvents() []*TransactionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TransactionEvent, len(m.transactionEvents))
	copy(out, m.transactionEvents)
	return out
}

// GenomeEvents returns a copy of the recorded genome events.
func (m *MockPublisher) GenomeEvents() []*GenomeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*GenomeEvent, len(m.genomeEvents))
	copy(out, m.genomeEvents)
	return out
}

// Reset clears recorded events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactionEvents = nil
	m.genomeEvents = nil
	m.publishErr = nil
	m.closed = false
}
