package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNotSeen is returned by queries that saw no acceptable advertisement
// during the scan window.
var ErrNotSeen = errors.New("scan: no matching advertisement")

// IsInSetupMode scans until address is seen and reports whether it is in
// setup mode.
func (s *Scanner) IsInSetupMode(ctx context.Context, address string, duration time.Duration, waitUntilInMode bool) (bool, error) {
	return s.isInMode(ctx, address, ModeSetup, duration, waitUntilInMode)
}

// IsInNormalMode scans until address is seen and reports whether it is in
// normal mode.
func (s *Scanner) IsInNormalMode(ctx context.Context, address string, duration time.Duration, waitUntilInMode bool) (bool, error) {
	return s.isInMode(ctx, address, ModeNormal, duration, waitUntilInMode)
}

func (s *Scanner) isInMode(ctx context.Context, address string, mode Mode, duration time.Duration, waitUntil bool) (bool, error) {
	slog.Debug("[SCAN] mode check", "address", address, "mode", mode, "duration", duration, "wait", waitUntil)
	checker := NewModeChecker(address, mode, waitUntil)
	if err := s.Run(ctx, duration, checker.Consume); err != nil {
		return false, err
	}
	inMode, seen := checker.Result()
	if !seen {
		return false, ErrNotSeen
	}
	return inMode, nil
}

// RSSIAverage returns the mean RSSI of address over the scan window.
func (s *Scanner) RSSIAverage(ctx context.Context, address string, duration time.Duration) (float64, error) {
	avg := NewRSSIAverager(address)
	if err := s.Run(ctx, duration, avg.Consume); err != nil {
		return 0, err
	}
	v, ok := avg.Average()
	if !ok {
		return 0, ErrNotSeen
	}
	return v, nil
}

// Nearest returns the nearest stone accepted by opts.
func (s *Scanner) Nearest(ctx context.Context, opts NearestOptions, duration time.Duration) (Summary, error) {
	sel := NewNearestSelector(opts)
	if err := s.Run(ctx, duration, sel.Consume); err != nil {
		return Summary{}, err
	}
	nearest, ok := sel.Nearest()
	if !ok {
		return Summary{}, ErrNotSeen
	}
	return nearest, nil
}

// Gather returns every stone seen during the scan window.
func (s *Scanner) Gather(ctx context.Context, duration time.Duration) ([]Summary, error) {
	g := NewGatherer()
	if err := s.Run(ctx, duration, g.Consume); err != nil {
		return nil, err
	}
	return g.Devices(), nil
}
