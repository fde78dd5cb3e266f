package zoom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAdmitsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Admit(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, rl.InFlight())
}

func TestRateLimiterBlocksUntilWindowSlides(t *testing.T) {
	window := 150 * time.Millisecond
	rl := NewRateLimiter(2, window)
	ctx := context.Background()

	require.NoError(t, rl.Admit(ctx))
	require.NoError(t, rl.Admit(ctx))

	start := time.Now()
	require.NoError(t, rl.Admit(ctx))
	waited := time.Since(start)

	// The third call waits for the oldest timestamp to leave the window.
	assert.GreaterOrEqual(t, waited, window/2)
	assert.LessOrEqual(t, rl.InFlight(), 2)
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	require.NoError(t, rl.Admit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterConcurrentAdmission(t *testing.T) {
	window := 100 * time.Millisecond
	rl := NewRateLimiter(5, window)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = rl.Admit(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// No window ever holds more than the limit.
	assert.LessOrEqual(t, rl.InFlight(), 5)
}

func TestRateLimiterPrunesExpired(t *testing.T) {
	window := 50 * time.Millisecond
	rl := NewRateLimiter(10, window)
	for i := 0; i < 4; i++ {
		require.NoError(t, rl.Admit(context.Background()))
	}
	assert.Equal(t, 4, rl.InFlight())

	time.Sleep(window + 20*time.Millisecond)
	assert.Equal(t, 0, rl.InFlight())
}
