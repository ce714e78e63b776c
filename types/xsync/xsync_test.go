package xsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	l.Trigger()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trigger")
	}
	require.True(t, l.Test())

	// Re-triggering is a no-op.
	l.Trigger()
	require.True(t, l.Test())

	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan not closed after Trigger")
	}
}

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[int]()
	require.False(t, l.Test())
	l.Trigger(7)
	require.True(t, l.Test())
	require.Equal(t, 7, l.Wait())

	// The first value sticks.
	l.Trigger(11)
	require.Equal(t, 7, l.Wait())
}
