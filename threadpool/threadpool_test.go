package threadpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTaskAndReturnsResult(t *testing.T) {
	p := New(2)
	defer func() { <-p.Stop() }()

	f := p.Submit(func() (interface{}, error) { return 42, nil })
	res, err := f.Get()
	if err != nil {
		t.Fatal(err)
	}
	if res.(int) != 42 {
		t.Errorf("result = %v, want 42", res)
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(2)
	defer func() { <-p.Stop() }()

	wantErr := errors.New("boom")
	f := p.Submit(func() (interface{}, error) { return nil, wantErr })
	_, err := f.Get()
	if err != wantErr {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestManyTasksAllComplete(t *testing.T) {
	p := New(4)
	defer func() { <-p.Stop() }()

	const n = 200
	var counter int64
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		futures[i] = p.Submit(func() (interface{}, error) {
			atomic.AddInt64(&counter, 1)
			return nil, nil
		})
	}
	for _, f := range futures {
		if _, err := f.Get(); err != nil {
			t.Fatal(err)
		}
	}
	if atomic.LoadInt64(&counter) != n {
		t.Errorf("counter = %d, want %d", counter, n)
	}
	stats := p.Stats()
	if stats.Completed != n {
		t.Errorf("Stats().Completed = %d, want %d", stats.Completed, n)
	}
}

func TestStopDrainsQueuedWork(t *testing.T) {
	p := New(1)
	done := make(chan struct{})
	p.Submit(func() (interface{}, error) {
		close(done)
		return nil, nil
	})
	select {
	case <-p.Stop():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete in time")
	}
	select {
	case <-done:
	default:
		t.Error("queued task did not run before Stop drained")
	}
}

func TestSubmitAfterStopReturnsErrStopped(t *testing.T) {
	p := New(1)
	<-p.Stop()
	f := p.Submit(func() (interface{}, error) { return nil, nil })
	_, err := f.Get()
	if err != ErrStopped {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestPanicInTaskBecomesError(t *testing.T) {
	p := New(1)
	defer func() { <-p.Stop() }()

	f := p.Submit(func() (interface{}, error) {
		panic("task exploded")
	})
	_, err := f.Get()
	if err == nil {
		t.Fatal("expected an error from a panicking task")
	}
}
