package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoEventualSuccess(t *testing.T) {
	attempts := 0
	out, err := Do(context.Background(), 3, Fixed(0), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, out)
	require.Equal(t, 3, attempts)
}

func TestDoFailsPermanently(t *testing.T) {
	boom := errors.New("boom")
	_, err := Do(context.Background(), 2, Fixed(0), func() (int, error) {
		return 0, boom
	})
	var permErr *ErrFailedPermanently
	require.ErrorAs(t, err, &permErr)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "2 attempts")
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, 5, Fixed(time.Second), func() (int, error) {
		return 0, errors.New("always")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo2(t *testing.T) {
	a, b, err := Do2(context.Background(), 1, Fixed(0), func() (string, int, error) {
		return "x", 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, "x", a)
	require.Equal(t, 7, b)
}

func TestExponentialStrategyBounds(t *testing.T) {
	s := Exponential()
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := s.Duration(i)
		require.GreaterOrEqual(t, d, prev/2, "durations should not collapse")
		require.LessOrEqual(t, d, 10*time.Minute+time.Second)
		prev = d
	}
}
