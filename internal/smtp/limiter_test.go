package smtp

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发上限", func(t *testing.T) {
		l := NewConnectionLimiter(2, 0)
		assert.NoError(t, l.Admit())
		assert.NoError(t, l.Admit())
		assert.ErrorIs(t, l.Admit(), errTooManySessions)
		assert.Equal(t, 2, l.Active())

		l.Leave()
		assert.NoError(t, l.Admit())
	})

	t.Run("新建速率", func(t *testing.T) {
		l := NewConnectionLimiter(0, 2)
		assert.NoError(t, l.Admit())
		assert.NoError(t, l.Admit())
		assert.ErrorIs(t, l.Admit(), errConnectionRate)
		assert.Equal(t, 2, l.Active())
	})

	t.Run("速率拒绝时归还并发名额", func(t *testing.T) {
		l := NewConnectionLimiter(2, 1)
		assert.NoError(t, l.Admit())
		assert.ErrorIs(t, l.Admit(), errConnectionRate)
		assert.Equal(t, 1, l.Active())
		assert.True(t, l.slots.TryAcquire(1), "rate refusal must not hold a slot")
	})

	t.Run("多余的Leave被忽略", func(t *testing.T) {
		l := NewConnectionLimiter(1, 0)
		l.Leave()
		assert.Equal(t, 0, l.Active())
		assert.NoError(t, l.Admit())
		assert.ErrorIs(t, l.Admit(), errTooManySessions)
	})

	t.Run("nil不限制", func(t *testing.T) {
		var l *ConnectionLimiter
		assert.NoError(t, l.Admit())
		l.Leave()
		assert.Equal(t, 0, l.Active())
	})

	t.Run("并发获取", func(t *testing.T) {
		l := NewConnectionLimiter(10, 0)
		var wg sync.WaitGroup
		var granted atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Admit() == nil {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(10), granted.Load())
		assert.Equal(t, 10, l.Active())
	})
}
