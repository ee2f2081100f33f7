package quality

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var inFlight, maxInFlight int32
	done := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxInFlight)
				if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			done <- struct{}{}
		})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		<-done
	}
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}
