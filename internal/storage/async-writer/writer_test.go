package asyncwriter

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestAsyncWriter(t *testing.T) {
	t.Run("flush writes queued records in order", func(t *testing.T) {
		var out lockedBuffer
		aw := NewAsyncWriter(&out, 4096, time.Hour)
		defer aw.Close()

		for _, line := range []string{"a\n", "b\n", "c\n"} {
			n, err := aw.Write([]byte(line))
			require.NoError(t, err)
			require.Equal(t, 2, n)
		}
		require.NoError(t, aw.Flush())
		require.Equal(t, "a\nb\nc\n", out.String())
	})

	t.Run("close drains the queue", func(t *testing.T) {
		var out lockedBuffer
		aw := NewAsyncWriter(&out, 4096, time.Hour)

		for range 100 {
			_, err := aw.Write([]byte("x"))
			require.NoError(t, err)
		}
		require.NoError(t, aw.Close())
		require.Len(t, out.String(), 100)

		_, err := aw.Write([]byte("late"))
		require.ErrorIs(t, err, ErrWriteAfterClose)
		require.ErrorIs(t, aw.Flush(), ErrWriteAfterClose)
	})

	t.Run("ticker flushes", func(t *testing.T) {
		var out lockedBuffer
		aw := NewAsyncWriter(&out, 4096, 5*time.Millisecond)
		defer aw.Close()

		_, err := aw.Write([]byte("tick"))
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return out.String() == "tick"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("write error is sticky", func(t *testing.T) {
		aw := NewAsyncWriter(failingWriter{}, 1, time.Hour)

		_, err := aw.Write([]byte("boom"))
		require.NoError(t, err)
		require.Error(t, aw.Flush())

		_, err = aw.Write([]byte("again"))
		require.Error(t, err)
		require.Error(t, aw.Close())
	})

	t.Run("accepted writes survive a concurrent close", func(t *testing.T) {
		var out lockedBuffer
		aw := NewAsyncWriter(&out, 64, time.Hour)

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					n, err := aw.Write([]byte("record\n"))
					if err != nil {
						if !errors.Is(err, ErrWriteAfterClose) {
							t.Errorf("unexpected write error: %v", err)
						}
						return
					}
					accepted.Add(int64(n))
				}
			}()
		}

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, aw.Close())
		wg.Wait()

		require.Equal(t, accepted.Load(), int64(len(out.String())))
	})
}
