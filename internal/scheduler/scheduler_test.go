package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingIngester struct {
	calls int32
	err   error
}

func (c *countingIngester) Ingest(ctx context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	return c.err
}

func TestRegister(t *testing.T) {
	s, err := NewScheduler(context.Background(), &countingIngester{}, "Asia/Kolkata")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := s.Register("0 30 18 * * 1-5"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("30 18 * * 1-5"); err == nil {
		t.Error("expected five-field spec to be rejected")
	}

	next := s.Next().In(s.Cron.Location())
	if next.Hour() != 18 || next.Minute() != 30 {
		t.Errorf("expected 18:30 IST, got %s", next)
	}
	if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Errorf("expected a weekday, got %s", wd)
	}
}

func TestNewScheduler_BadTimezone(t *testing.T) {
	if _, err := NewScheduler(context.Background(), &countingIngester{}, "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestRunNow(t *testing.T) {
	ing := &countingIngester{err: errors.New("boom")}
	s, err := NewScheduler(context.Background(), ing, "UTC")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.RunNow()
	if ing.calls != 1 {
		t.Errorf("expected one ingest, got %d", ing.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Ctx = ctx
	s.RunNow()
	if ing.calls != 1 {
		t.Errorf("cancelled scheduler must not ingest, got %d calls", ing.calls)
	}
}

func TestStartStop(t *testing.T) {
	ing := &countingIngester{}
	s, err := NewScheduler(context.Background(), ing, "UTC")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := s.Register("* * * * * *"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&ing.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if atomic.LoadInt32(&ing.calls) == 0 {
		t.Error("expected the every-second task to run")
	}
}
