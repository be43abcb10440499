package gps

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"compass-ng/internal/declination"
)

func TestService_NMEAFeedsOnFix(t *testing.T) {
	pr, pw := io.Pipe()
	old := openSerial
	openSerial = func(device string, baud int) (io.ReadCloser, error) {
		if device != "/dev/fake" || baud != 9600 {
			t.Errorf("open(%q,%d)", device, baud)
		}
		return pr, nil
	}
	t.Cleanup(func() { openSerial = old })

	var (
		mu    sync.Mutex
		fixes []declination.GeoPosition
	)
	got := make(chan struct{}, 4)
	svc := New(Config{
		Enable: true,
		Device: "/dev/fake",
		OnFix: func(p declination.GeoPosition) {
			mu.Lock()
			fixes = append(fixes, p)
			mu.Unlock()
			got <- struct{}{}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	go func() {
		_, _ = io.WriteString(pw, "garbage\r\n")
		_, _ = io.WriteString(pw, nmeaLine(rmcPayload)+"\r\n")
		_, _ = io.WriteString(pw, "$GPRMC,bad*00\r\n")
		_, _ = io.WriteString(pw, nmeaLine(ggaPayload)+"\r\n")
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fix %d", i)
		}
	}

	snap := svc.Snapshot()
	if !snap.Valid || snap.Fixes != 2 || snap.Source != "nmea" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.LastError != "" {
		t.Fatalf("good fix should clear last error, got %q", snap.LastError)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fixes) != 2 || fixes[1].Altitude == 0 {
		t.Fatalf("fixes=%+v", fixes)
	}
}

func TestService_OpenFailureIsRetried(t *testing.T) {
	old := openSerial
	calls := make(chan struct{}, 8)
	openSerial = func(string, int) (io.ReadCloser, error) {
		calls <- struct{}{}
		return nil, errors.New("no such device")
	}
	t.Cleanup(func() { openSerial = old })

	svc := New(Config{Enable: true, Device: "/dev/missing"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for open attempt %d", i)
		}
	}
	if svc.Snapshot().LastError == "" {
		t.Fatalf("expected last error")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestService_DisabledReturnsImmediately(t *testing.T) {
	if err := New(Config{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := New(Config{}).Position(); ok {
		t.Fatalf("expected no position")
	}
}

func TestService_UnknownSource(t *testing.T) {
	if err := New(Config{Enable: true, Source: "glonass"}).Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
