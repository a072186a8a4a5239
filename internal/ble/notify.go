package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// lastFragmentIndex marks the final fragment of a logical message.
const lastFragmentIndex = 0xFF

// Framing selects how notifications map onto logical messages.
type Framing int

const (
	// FramingIndexed: each notification is an index byte plus a fragment;
	// the fragment with index 0xFF completes an encrypted message.
	FramingIndexed Framing = iota
	// FramingRaw: each notification is one complete plaintext message.
	FramingRaw
)

// ProcessType is the verdict of a ResultHandler on one logical message.
type ProcessType int

const (
	ProcessContinue ProcessType = iota
	ProcessFinished
	ProcessAbort
)

func (p ProcessType) String() string {
	switch p {
	case ProcessContinue:
		return "continue"
	case ProcessFinished:
		return "finished"
	case ProcessAbort:
		return "abort"
	default:
		return fmt.Sprintf("process(%d)", int(p))
	}
}

// ResultHandler inspects one reassembled message and decides whether the
// exchange goes on.
type ResultHandler func(message []byte) ProcessType

// Reassembler collects notifications of one in-flight request into logical
// messages and drives them through a ResultHandler. It is safe to feed
// from the transport's notification goroutine while another goroutine waits.
type Reassembler struct {
	framing Framing
	decrypt func([]byte) ([]byte, error)
	handler ResultHandler

	mu      sync.Mutex
	buf     []byte
	message []byte
	err     error
	ended   bool
	done    chan struct{}
}

// NewReassembler creates a reassembler. A nil handler finishes on the first
// message, which is the single-shot command behaviour. decrypt may be nil
// for plaintext streams.
func NewReassembler(framing Framing, decrypt func([]byte) ([]byte, error), handler ResultHandler) *Reassembler {
	if handler == nil {
		handler = func([]byte) ProcessType { return ProcessFinished }
	}
	return &Reassembler{
		framing: framing,
		decrypt: decrypt,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Feed processes one notification.
func (r *Reassembler) Feed(data []byte) {
	if len(data) == 0 {
		return
	}

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}

	var message []byte
	switch r.framing {
	case FramingRaw:
		message = append([]byte(nil), data...)
	default:
		r.buf = append(r.buf, data[1:]...)
		if data[0] != lastFragmentIndex {
			r.mu.Unlock()
			return
		}
		message = r.buf
		r.buf = nil
		if r.decrypt != nil {
			plain, err := r.decrypt(message)
			if err != nil {
				r.endLocked(nil, fmt.Errorf("%w: %w", ErrInvalidEncryptedPayload, err))
				r.mu.Unlock()
				return
			}
			message = plain
		}
	}
	r.mu.Unlock()

	// The handler runs without the lock so it may block on its own consumers.
	verdict := r.handler(message)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch verdict {
	case ProcessFinished:
		r.endLocked(message, nil)
	case ProcessAbort:
		r.endLocked(message, ErrStreamAborted)
	}
}

// Fail ends the exchange with err, typically because the link dropped.
func (r *Reassembler) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLocked(nil, err)
}

func (r *Reassembler) endLocked(message []byte, err error) {
	if r.ended {
		return
	}
	r.ended = true
	r.message = message
	r.err = err
	close(r.done)
}

// Done is closed once the exchange has finished or failed.
func (r *Reassembler) Done() <-chan struct{} {
	return r.done
}

// Err returns the error the exchange ended with, if any.
func (r *Reassembler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the exchange ends, ctx is cancelled, or timeout
// elapses. On timeout it returns timeoutErr.
func (r *Reassembler) Wait(ctx context.Context, timeout time.Duration, timeoutErr error) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		slog.Debug("[BLE] notification wait timed out", "timeout", timeout)
		r.Fail(timeoutErr)
	case <-ctx.Done():
		r.Fail(ctx.Err())
	}

	// A message that raced the timeout still wins.
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message, r.err
}
