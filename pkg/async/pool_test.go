package async

import (
	"errors"
	"sync"
	"testing"
	"time"
)

const poolTestPrefix = "async:pool_test - "

func TestPool_RunsSubmittedWork(t *testing.T) {
	p := NewPool(4, 16)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			seen++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("%sSubmit: %v", poolTestPrefix, err)
		}
	}
	wg.Wait()
	p.Close()
	if seen != 10 {
		t.Errorf("%sran %d items, want 10", poolTestPrefix, seen)
	}
	if got := p.Stats().Completed; got != 10 {
		t.Errorf("%sCompleted = %d, want 10", poolTestPrefix, got)
	}
}

func TestPool_ExhaustedWhenQueueStaysFull(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func() { close(started); <-release }); err != nil {
		t.Fatalf("%sfirst Submit: %v", poolTestPrefix, err)
	}
	<-started
	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("%squeued Submit: %v", poolTestPrefix, err)
	}
	err := p.Submit(func() {})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("%sSubmit on full queue = %v, want ErrPoolExhausted", poolTestPrefix, err)
	}
	if got := p.Stats().Rejected; got != 1 {
		t.Errorf("%sRejected = %d, want 1", poolTestPrefix, got)
	}
	close(release)
	p.Close()
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(1, 1)
	p.Close()
	if err := p.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("%sSubmit after Close = %v, want ErrClosed", poolTestPrefix, err)
	}
	p.Close()
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Close()
	if err := p.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("%sSubmit: %v", poolTestPrefix, err)
	}
	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatalf("%sSubmit: %v", poolTestPrefix, err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%sworker did not survive a panic", poolTestPrefix)
	}
	if got := p.Stats().Panics; got != 1 {
		t.Errorf("%sPanics = %d, want 1", poolTestPrefix, got)
	}
}
