package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func sleepy(d time.Duration, v int) Task[int] {
	return func(ctx context.Context) (int, error) {
		time.Sleep(d)
		return v, nil
	}
}

func TestExecuteKeepsInputOrder(t *testing.T) {
	t.Parallel()
	got, err := Execute(context.Background(),
		sleepy(30*time.Millisecond, 1),
		sleepy(1*time.Millisecond, 2),
		sleepy(15*time.Millisecond, 3),
	)
	if err != nil {
		t.Fatalf("Execute err = %v", err)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("results = %v, want %v", got, want)
		}
	}
}

func TestExecuteRunsConcurrently(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_, err := Execute(context.Background(),
		sleepy(50*time.Millisecond, 1),
		sleepy(50*time.Millisecond, 2),
		sleepy(50*time.Millisecond, 3),
	)
	if err != nil {
		t.Fatalf("Execute err = %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 140*time.Millisecond {
		t.Fatalf("elapsed = %v, tasks look sequential", elapsed)
	}
}

func TestExecuteCollectsThenReturnsFirstError(t *testing.T) {
	t.Parallel()
	errEarly := errors.New("index 1")
	errLate := errors.New("index 2")
	var finished atomic.Int32

	tasks := []Task[string]{
		func(context.Context) (string, error) {
			time.Sleep(40 * time.Millisecond)
			finished.Add(1)
			return "a", nil
		},
		func(context.Context) (string, error) {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return "", errEarly
		},
		func(context.Context) (string, error) {
			finished.Add(1)
			return "", errLate
		},
	}
	got, err := Execute(context.Background(), tasks...)
	if err != errEarly {
		t.Fatalf("err = %v, want the lowest-index failure unchanged", err)
	}
	if finished.Load() != 3 {
		t.Fatalf("finished = %d, want all 3", finished.Load())
	}
	if len(got) != 3 || got[0] != "a" {
		t.Fatalf("values = %v", got)
	}
}

func TestExecuteAllReportsEveryOutcome(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	res, err := ExecuteAll(context.Background(),
		Call(func(_ context.Context, n int) (int, error) { return n * 2, nil }, 4),
		Call(func(context.Context, int) (int, error) { return 0, boom }, 0),
	)
	if err != nil {
		t.Fatalf("ExecuteAll err = %v", err)
	}
	if res[0].Value != 8 || res[0].Err != nil {
		t.Fatalf("res[0] = %+v", res[0])
	}
	if !errors.Is(res[1].Err, boom) {
		t.Fatalf("res[1] = %+v", res[1])
	}
}

func TestExecuteRejectsNilTask(t *testing.T) {
	t.Parallel()
	var ran atomic.Bool
	_, err := Execute[int](context.Background(),
		func(context.Context) (int, error) { ran.Store(true); return 1, nil },
		nil,
	)
	if !errors.Is(err, ErrNilTask) {
		t.Fatalf("err = %v, want ErrNilTask", err)
	}
	if ran.Load() {
		t.Fatal("task ran despite a nil sibling")
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()
	_, err := Execute(context.Background(),
		sleepy(0, 1),
		func(context.Context) (int, error) { panic("frame decode") },
	)
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("err = %v, want ErrPanic", err)
	}
}

func TestExecuteEmpty(t *testing.T) {
	t.Parallel()
	got, err := Execute[int](context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Execute() = %v, %v", got, err)
	}
}
