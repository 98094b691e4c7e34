// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package device

import (
	"sync"
	"time"
)

// Event is one item pushed by a Stream. Err is set for failures the stream
// survives, such as a failed poll.
type Event struct {
	Result    Result
	Timestamp time.Time
	Err       error
}

// Stream is a push-style result stream.
type Stream interface {
	// Events delivers results. It is closed when the stream ends.
	Events() <-chan Event
	// Destroy stops the stream. No event is delivered after Destroy returns.
	Destroy()
}

// ChanStream is a Stream fed by a single producer.
type ChanStream struct {
	events      chan Event
	done        chan struct{}
	destroyOnce sync.Once
	closeOnce   sync.Once
	onDestroy   func()
}

// NewChanStream creates a stream. onDestroy, when set, runs once inside
// Destroy after the done channel is closed.
func NewChanStream(buffer int, onDestroy func()) *ChanStream {
	return &ChanStream{
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
		onDestroy: onDestroy,
	}
}

// Events implements Stream.
func (s *ChanStream) Events() <-chan Event { return s.events }

// Done is closed when the stream is destroyed.
func (s *ChanStream) Done() <-chan struct{} { return s.done }

// Emit delivers ev, blocking until a consumer receives it or the stream is
// destroyed. It reports whether ev was delivered.
func (s *ChanStream) Emit(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the stream from the producer side.
func (s *ChanStream) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Destroy implements Stream.
func (s *ChanStream) Destroy() {
	s.destroyOnce.Do(func() {
		close(s.done)
		if s.onDestroy != nil {
			s.onDestroy()
		}
	})
}
