package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/stonectl/internal/ble"
)

func TestScannerDeliversEvents(t *testing.T) {
	s, _ := newTestScanner(t, setupAdv(addr, -50), setupAdv("aa:bb:cc:dd:ee:02", -70))

	var got []Event
	err := s.Run(context.Background(), 50*time.Millisecond, func(ev Event) bool {
		got = append(got, ev)
		return false
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d events, want 4 (raw and validated per stone)", len(got))
	}
}

func TestScannerStopsEarly(t *testing.T) {
	s, adapter := newTestScanner(t, setupAdv(addr, -50), setupAdv("aa:bb:cc:dd:ee:02", -70))

	calls := 0
	start := time.Now()
	err := s.Run(context.Background(), 10*time.Second, func(Event) bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("consumer called %d times after asking to stop, want 1", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("early stop did not end the scan promptly")
	}
	select {
	case <-adapter.returned:
	default:
		t.Error("adapter scan still running after Run returned")
	}
}

func TestScannerContextCancel(t *testing.T) {
	s, _ := newTestScanner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, 0, func(Event) bool { return false }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestScannerAdapterError(t *testing.T) {
	s, adapter := newTestScanner(t)
	adapter.scanErr = errors.New("adapter gone")
	if err := s.Run(context.Background(), time.Second, func(Event) bool { return false }); err == nil {
		t.Error("Run() should surface the adapter error")
	}
}

func TestScannerSkipsUndecodable(t *testing.T) {
	s, _ := newTestScanner(t, ble.Advertisement{Address: addr, ServiceUUID: 0xC001, ServiceData: []byte{5}})
	calls := 0
	if err := s.Run(context.Background(), 20*time.Millisecond, func(Event) bool { calls++; return false }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("consumer saw %d events from a truncated advertisement", calls)
	}
}
