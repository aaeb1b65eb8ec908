package relaymq

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
)

func TestFutureResolve(t *testing.T) {
	f := NewFuture[int]()
	tdd.False(t, f.Settled())

	f.Resolve(42)
	f.Resolve(7) // second settlement is a no-op

	v, err := f.Wait(context.Background())
	tdd.NoError(t, err)
	tdd.Equal(t, 42, v)
	tdd.True(t, f.Settled())
}

func TestFutureReject(t *testing.T) {
	f := NewFuture[string]()
	f.Reject(ErrNotConnected)

	_, err := f.Wait(context.Background())
	tdd.ErrorIs(t, err, ErrNotConnected)
}

func TestFutureWaitContextCancelled(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	tdd.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureManyObservers(t *testing.T) {
	f := NewFuture[int]()
	results := make(chan int, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, _ := f.Wait(context.Background())
			results <- v
		}()
	}
	time.Sleep(10 * time.Millisecond)
	f.Resolve(99)

	for i := 0; i < 5; i++ {
		tdd.Equal(t, 99, <-results)
	}
}

func TestJoin(t *testing.T) {
	a, b, c := NewFuture[int](), NewFuture[int](), NewFuture[int]()
	a.Resolve(1)
	b.Reject(ErrShutdown)
	c.Resolve(3)

	err := Join(context.Background(), a, b, c)
	tdd.ErrorIs(t, err, ErrShutdown)
}

func TestJoinAllSucceed(t *testing.T) {
	a, b := NewFuture[int](), NewFuture[int]()
	a.Resolve(1)
	b.Resolve(2)

	tdd.NoError(t, Join(context.Background(), a, b))
}
