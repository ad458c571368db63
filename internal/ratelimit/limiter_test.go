package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skycomm/email-ai-manager/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestReserveNeverExceedsBudget(t *testing.T) {
	l := New(testutil.NewTestDB(t), 2)
	ctx := context.Background()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, ok, err := l.Reserve(ctx, id, t0)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}(int64(i + 1))
	}
	wg.Wait()
	if n := granted.Load(); n != 2 {
		t.Fatalf("granted %d slots, want 2", n)
	}
}

func TestWindowRollsOver(t *testing.T) {
	l := New(testutil.NewTestDB(t), 1)
	ctx := context.Background()

	r, ok, err := l.Reserve(ctx, 1, t0)
	if err != nil || !ok {
		t.Fatalf("Reserve = %v, %v", ok, err)
	}
	if err := l.Confirm(ctx, r, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if ok, _ := l.AllowSend(ctx, t0.Add(30*time.Minute)); ok {
		t.Error("second send allowed inside the window")
	}
	next, err := l.NextSlot(ctx, t0.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	if want := t0.Add(61 * time.Minute); !next.Equal(want) {
		t.Errorf("NextSlot = %v, want %v", next, want)
	}
	if ok, _ := l.AllowSend(ctx, t0.Add(61*time.Minute+time.Second)); !ok {
		t.Error("send not allowed after the window rolled over")
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	l := New(testutil.NewTestDB(t), 1)
	ctx := context.Background()

	r, ok, err := l.Reserve(ctx, 1, t0)
	if err != nil || !ok {
		t.Fatalf("Reserve = %v, %v", ok, err)
	}
	if _, ok, _ := l.Reserve(ctx, 2, t0); ok {
		t.Fatal("second reservation granted")
	}
	if err := l.Release(ctx, r); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok, _ := l.Reserve(ctx, 2, t0); !ok {
		t.Error("reservation refused after release")
	}
}

func TestZeroBudgetAllowsNothing(t *testing.T) {
	l := New(testutil.NewTestDB(t), 0)
	if _, ok, err := l.Reserve(context.Background(), 1, t0); ok || err != nil {
		t.Errorf("Reserve = %v, %v; want refused", ok, err)
	}
}

func TestReserveHoldsOneSlotPerEmail(t *testing.T) {
	tests := []struct {
		name    string
		confirm bool
		at      time.Duration
		wantOK  bool
		wantErr error
	}{
		{name: "live reservation", at: time.Minute, wantErr: ErrInFlight},
		{name: "expired reservation is taken over", at: Lease + time.Second, wantOK: true},
		{name: "confirmed send", confirm: true, at: 2 * Lease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(testutil.NewTestDB(t), 5)
			ctx := context.Background()

			r, ok, err := l.Reserve(ctx, 7, t0)
			if err != nil || !ok {
				t.Fatalf("Reserve = %v, %v", ok, err)
			}
			if tt.confirm {
				if err := l.Confirm(ctx, r, t0.Add(time.Minute)); err != nil {
					t.Fatalf("Confirm: %v", err)
				}
			}

			again, ok, err := l.Reserve(ctx, 7, t0.Add(tt.at))
			if ok != tt.wantOK {
				t.Errorf("second Reserve ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.confirm {
				var sent *AlreadySentError
				if !errors.As(err, &sent) || !sent.SentAt.Equal(t0.Add(time.Minute)) {
					t.Fatalf("err = %v, want AlreadySentError at %v", err, t0.Add(time.Minute))
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantOK && again.ID == r.ID {
				t.Error("takeover reused the expired reservation")
			}
		})
	}
}

func TestConcurrentReservesForOneEmail(t *testing.T) {
	l := New(testutil.NewTestDB(t), 10)
	ctx := context.Background()

	var granted, inFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.Reserve(ctx, 42, t0)
			switch {
			case errors.Is(err, ErrInFlight):
				inFlight.Add(1)
			case err != nil:
				t.Errorf("Reserve: %v", err)
			case ok:
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if granted.Load() != 1 || inFlight.Load() != 4 {
		t.Fatalf("granted %d, in flight %d; want 1 and 4", granted.Load(), inFlight.Load())
	}
}
