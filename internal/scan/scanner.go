package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/stonectl/internal/ble"
	"github.com/chaz8081/stonectl/internal/ble/crypto"
)

// advertisementBuffer is how many advertisements may queue between the
// adapter callback and the validator goroutine before new ones are dropped.
const advertisementBuffer = 256

// Consumer receives scan events. Returning true ends the scan early.
type Consumer func(Event) (stop bool)

// Scanner feeds adapter advertisements through a Validator.
type Scanner struct {
	adapter   ble.Adapter
	keys      *crypto.Keyset
	validator *Validator
}

// NewScanner creates a scanner. A nil validator gets one with default
// options.
func NewScanner(adapter ble.Adapter, keys *crypto.Keyset, validator *Validator) (*Scanner, error) {
	if validator == nil {
		var err error
		validator, err = NewValidator(ValidatorOptions{})
		if err != nil {
			return nil, err
		}
	}
	return &Scanner{adapter: adapter, keys: keys, validator: validator}, nil
}

// Validator returns the validator owned by the scanner.
func (s *Scanner) Validator() *Validator { return s.validator }

// Run scans for duration (forever when duration is zero) and hands every
// event to consume on a single goroutine. It returns nil when the window
// ends or consume asks to stop, and the context error when ctx ends first.
func (s *Scanner) Run(ctx context.Context, duration time.Duration, consume Consumer) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("scan: enable adapter: %w", err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var window <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		window = timer.C
	}

	advs := make(chan ble.Advertisement, advertisementBuffer)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- s.adapter.Scan(scanCtx, func(adv ble.Advertisement) {
			select {
			case advs <- adv:
			default:
				slog.Debug("[SCAN] advertisement dropped, queue full", "address", adv.Address)
			}
		})
	}()

	slog.Debug("[SCAN] started", "duration", duration)
	finish := func() error {
		cancel()
		err := <-scanDone
		slog.Debug("[SCAN] stopped")
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan: %w", err)
		}
		return nil
	}

	for {
		select {
		case adv := <-advs:
			if s.handle(adv, consume) {
				return finish()
			}
		case <-window:
			return finish()
		case <-ctx.Done():
			finish()
			return ctx.Err()
		case err := <-scanDone:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scan: %w", err)
			}
			return nil
		}
	}
}

func (s *Scanner) handle(adv ble.Advertisement, consume Consumer) (stop bool) {
	rec, err := NewRecord(adv, s.keys)
	if err != nil {
		slog.Debug("[SCAN] skipping advertisement", "error", err)
		return false
	}
	for _, ev := range s.validator.Process(rec) {
		if consume(ev) {
			return true
		}
	}
	return false
}
