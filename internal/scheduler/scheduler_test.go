package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"telebridge/internal/domain"
	"telebridge/internal/feature/group"
)

type fakeRefresher struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeRefresher) Refresh(context.Context) (group.RefreshReport, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	return group.RefreshReport{Total: 2, Updated: 2}, f.err
}

func newTestLogger() (*logrus.Entry, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func TestValidate(t *testing.T) {
	for _, spec := range []string{"*/15 * * * *", "0 3 * * *", "@every 10m", "@hourly"} {
		if err := Validate(spec); err != nil {
			t.Fatalf("expected %q to be valid, got %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every day", "* * * * * *"} {
		if err := Validate(spec); err == nil {
			t.Fatalf("expected %q to be rejected", spec)
		}
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	logger, _ := newTestLogger()

	if _, err := New("bogus", &fakeRefresher{}, logger); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if _, err := New("@hourly", nil, logger); err == nil {
		t.Fatalf("expected missing refresher error")
	}
}

func TestTickRunsRefresh(t *testing.T) {
	logger, hook := newTestLogger()
	refresher := &fakeRefresher{}
	s, err := New("@hourly", refresher, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	s.tick(context.Background())

	if refresher.calls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", refresher.calls.Load())
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "refresh_scheduled" {
		t.Fatalf("expected completion log, got %+v", entry)
	}
}

func TestTickLogsDisconnectedAtDebug(t *testing.T) {
	logger, hook := newTestLogger()
	s, _ := New("@hourly", &fakeRefresher{err: domain.ErrNotConnected}, logger)

	s.tick(context.Background())

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "refresh_idle" || entry.Level != logrus.DebugLevel {
		t.Fatalf("expected idle debug log, got %+v", entry)
	}
}

func TestTickLogsFailures(t *testing.T) {
	logger, hook := newTestLogger()
	s, _ := New("@hourly", &fakeRefresher{err: errors.New("store down")}, logger)

	s.tick(context.Background())

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "refresh_failed" || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error log, got %+v", entry)
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	logger, hook := newTestLogger()
	refresher := &fakeRefresher{block: make(chan struct{}), started: make(chan struct{})}
	s, _ := New("@hourly", refresher, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.tick(context.Background())
	}()
	<-refresher.started

	s.tick(context.Background())
	close(refresher.block)
	<-done

	if refresher.calls.Load() != 1 {
		t.Fatalf("expected overlapping tick to be skipped, got %d calls", refresher.calls.Load())
	}

	skipped := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "refresh_skipped" {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected skip log")
	}
}

func TestStartStop(t *testing.T) {
	logger, _ := newTestLogger()
	s, _ := New("@every 1h", &fakeRefresher{}, logger)

	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("expected repeated Stop to be a no-op, got %v", err)
	}
}
