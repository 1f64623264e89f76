package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raymondsend/ytfetch/internal/kvstore"
)

func TestTryAcquireAdmitsThenRejects(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	throttled, err := s.TryAcquire(ctx, 1, ActionSend, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if throttled {
		t.Fatal("first caller was rejected")
	}

	throttled, err = s.TryAcquire(ctx, 1, ActionSend, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !throttled {
		t.Fatal("second caller was admitted while key held")
	}

	// A different action for the same user is independent.
	throttled, err = s.TryAcquire(ctx, 1, ActionDownload, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if throttled {
		t.Fatal("unrelated action was rejected")
	}
}

func TestTryAcquireConcurrentSingleAdmit(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttled, err := s.TryAcquire(ctx, 7, ActionDownload, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if !throttled {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("%d callers admitted, want exactly 1", admitted)
	}
}

func TestReleaseReadmits(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory())

	if throttled, _ := s.TryAcquire(ctx, 3, ActionSend, time.Minute); throttled {
		t.Fatal("first acquire rejected")
	}
	if err := s.Release(ctx, 3, ActionSend); err != nil {
		t.Fatal(err)
	}
	throttled, err := s.TryAcquire(ctx, 3, ActionSend, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if throttled {
		t.Fatal("acquire after release was rejected")
	}
}
