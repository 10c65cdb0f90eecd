package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func echoHandler(t Task) Handler {
	return func(ctx context.Context, task Task) (Task, error) {
		return t, nil
	}
}

func TestRequest_ExactMatchBeatsWildcard(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.Subscribe("a.*.c", func(ctx context.Context, task Task) (Task, error) {
		return Task{Action: "from-wildcard"}, nil
	})
	b.Subscribe("a.b.c", func(ctx context.Context, task Task) (Task, error) {
		return Task{Action: "from-exact"}, nil
	})

	reply, err := b.Request(context.Background(), Task{Action: "a.b.c"}, time.Second)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if reply.Action != "from-exact" {
		t.Errorf("reply = %+v, want from-exact", reply)
	}
}

func TestRequest_SingleWildcardBeatsDoubleStar(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.Subscribe("a.*.c", func(ctx context.Context, task Task) (Task, error) {
		return Task{Action: "from-star"}, nil
	})
	b.Subscribe("a.**", func(ctx context.Context, task Task) (Task, error) {
		return Task{Action: "from-doublestar"}, nil
	})

	reply, err := b.Request(context.Background(), Task{Action: "a.b.c"}, time.Second)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if reply.Action != "from-star" {
		t.Errorf("reply = %+v, want from-star", reply)
	}
}

func TestRequest_NoHandler(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, err := b.Request(context.Background(), Task{Action: "nothing.subscribed"}, time.Second)
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("err = %v, want ErrNoHandler", err)
	}
}

func TestRequest_AmbiguousHandler(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.Subscribe("a.*", echoHandler(Task{Action: "one"}))
	b.Subscribe("*.b", echoHandler(Task{Action: "two"}))

	_, err := b.Request(context.Background(), Task{Action: "a.b"}, time.Second)
	if !errors.Is(err, ErrAmbiguousHandler) {
		t.Errorf("err = %v, want ErrAmbiguousHandler", err)
	}
}

func TestRequest_Timeout(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.Subscribe("slow", func(ctx context.Context, task Task) (Task, error) {
		<-ctx.Done()
		return Task{}, ctx.Err()
	})

	_, err := b.Request(context.Background(), Task{Action: "slow"}, 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestRequest_Purity(t *testing.T) {
	b := New(nil)
	defer b.Close()

	want := Task{
		Action:        "custom.action",
		CorrelationID: "corr-1",
		Metadata:      map[string]any{"status": "custom"},
	}
	b.Subscribe("custom.action", func(ctx context.Context, task Task) (Task, error) {
		return want, nil
	})

	got, err := b.Request(context.Background(), Task{Action: "custom.action"}, time.Second)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if got.CorrelationID != want.CorrelationID || got.Metadata["status"] != "custom" {
		t.Errorf("bus rewrote the reply task: got %+v, want %+v", got, want)
	}
}

func TestPublish_WildcardDeliversToAllThree(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var mu sync.Mutex
	received := map[string]int{}
	record := func(name string) Handler {
		return func(ctx context.Context, task Task) (Task, error) {
			mu.Lock()
			received[name]++
			mu.Unlock()
			return Task{}, nil
		}
	}

	b.Subscribe("node.thinking", record("h1"))
	b.Subscribe("node.*", record("h2"))
	b.Subscribe("**", record("h3"))

	b.Publish(Task{Action: "node.thinking"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received["h1"] == 1 && received["h2"] == 1 && received["h3"] == 1
	})
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var calls int
	var mu sync.Mutex
	id, _ := b.Subscribe("x", func(ctx context.Context, task Task) (Task, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Task{}, nil
	})

	b.Unsubscribe(id)
	b.Unsubscribe(id) // must not panic or double-close

	b.Publish(Task{Action: "x"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestPublish_NoBackfill(t *testing.T) {
	b := New(nil)
	defer b.Close()

	b.Publish(Task{Action: "x"})

	var mu sync.Mutex
	called := false
	b.Subscribe("x", func(ctx context.Context, task Task) (Task, error) {
		mu.Lock()
		called = true
		mu.Unlock()
		return Task{}, nil
	})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("subscriber should not receive tasks published before it subscribed")
	}
}

func TestOverflow_DropOldest(t *testing.T) {
	b := New(nil)
	defer b.Close()

	block := make(chan struct{})
	var delivered int32Counter
	b.Subscribe("flood", func(ctx context.Context, task Task) (Task, error) {
		<-block // first delivery blocks the subscription's single worker goroutine
		delivered.add(1)
		return Task{}, nil
	}, WithQueueSize(2))

	var overflowed int32Counter
	b.OnOverflow(func(task Task, subID uint64) { overflowed.add(1) })

	// first publish is picked up immediately by the blocked worker; the
	// next several queue up and overflow the size-2 buffer.
	for i := 0; i < 6; i++ {
		b.Publish(Task{Action: "flood", Metadata: map[string]any{"i": i}})
	}
	close(block)

	waitFor(t, func() bool { return overflowed.get() > 0 })
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
