package safego

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards the log buffer; the handler writes from the goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func wait(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go("test", func() {
		defer wg.Done()
	})
	wait(t, &wg)
}

func TestGo_RecoversPanicAndLogsName(t *testing.T) {
	out := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var wg sync.WaitGroup
	wg.Add(1)
	Go("reconciler", func() {
		defer wg.Done()
		panic("intentional panic in test")
	})
	wait(t, &wg)

	// the deferred recover logs after wg.Done runs
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "goroutine=reconciler") {
		if time.Now().After(deadline) {
			t.Fatalf("panic was not logged with the goroutine name; log: %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "intentional panic in test") {
		t.Errorf("log does not carry the panic value: %q", out.String())
	}
}
