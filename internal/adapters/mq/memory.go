package mq

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory implements Publisher and Consumer with process-local queues.
// It backs tests and single-process runs. Redelivery happens when a
// consumer nacks with requeue; there is no idle-based reclaim because a
// local consumer cannot silently die without its loop unwinding.
type Memory struct {
	mu       sync.Mutex
	streams  map[string]*memStream
	prefetch int
	closed   bool
	nextID   int64
	wg       sync.WaitGroup
}

type memStream struct {
	cond *sync.Cond
	msgs []memMessage
}

type memMessage struct {
	id   string
	body []byte
}

// NewMemory creates an in-memory channel. prefetch caps the unacked
// deliveries outstanding per consume loop; values below one fall back
// to the default.
func NewMemory(prefetch int) *Memory {
	if prefetch < 1 {
		prefetch = defaultPrefetch
	}
	return &Memory{
		streams:  make(map[string]*memStream),
		prefetch: prefetch,
	}
}

func (m *Memory) stream(name string) *memStream {
	if s, ok := m.streams[name]; ok {
		return s
	}
	s := &memStream{cond: sync.NewCond(&m.mu)}
	m.streams[name] = s
	return s
}

// Publish appends body to the named stream.
func (m *Memory) Publish(_ context.Context, stream string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrChannelClosed
	}

	m.nextID++
	cp := make([]byte, len(body))
	copy(cp, body)

	s := m.stream(stream)
	s.msgs = append(s.msgs, memMessage{id: fmt.Sprintf("%d-0", m.nextID), body: cp})
	s.cond.Signal()
	return nil
}

// Consume starts a loop draining the named stream.
func (m *Memory) Consume(ctx context.Context, stream string) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrChannelClosed
	}
	s := m.stream(stream)
	m.mu.Unlock()

	out := make(chan Delivery)
	inflight := make(chan struct{}, m.prefetch)

	// Wake the loop when the context ends so it is not stuck in Wait.
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		s.cond.Broadcast()
		m.mu.Unlock()
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(out)

		for {
			m.mu.Lock()
			for len(s.msgs) == 0 && !m.closed && ctx.Err() == nil {
				s.cond.Wait()
			}
			if m.closed || ctx.Err() != nil {
				m.mu.Unlock()
				return
			}
			msg := s.msgs[0]
			s.msgs = s.msgs[1:]
			m.mu.Unlock()

			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				m.requeue(s, msg)
				return
			}

			d := NewDelivery(msg.id, msg.body,
				func(context.Context) error {
					<-inflight
					return nil
				},
				func(_ context.Context, requeue bool) error {
					<-inflight
					if requeue {
						m.requeue(s, msg)
					}
					return nil
				})

			select {
			case out <- d:
			case <-ctx.Done():
				m.requeue(s, msg)
				return
			}
		}
	}()

	return out, nil
}

// requeue puts the message back at the head so redelivery preserves the
// original order as closely as possible.
func (m *Memory) requeue(s *memStream, msg memMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.msgs = append([]memMessage{msg}, s.msgs...)
	s.cond.Signal()
}

// Len reports the number of messages waiting on the stream.
func (m *Memory) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[stream]; ok {
		return len(s.msgs)
	}
	return 0
}

// Close stops all consume loops and rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.streams {
		s.cond.Broadcast()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}
