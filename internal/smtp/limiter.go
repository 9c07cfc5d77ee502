package smtp

import (
	"errors"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// 连接被拒绝的原因
var (
	errTooManySessions = errors.New("concurrent session limit reached")
	errConnectionRate  = errors.New("connection rate exceeded")
)

// ConnectionLimiter 限制并发会话数与新建连接速率，nil 表示不限制
type ConnectionLimiter struct {
	slots  *semaphore.Weighted
	rate   *rate.Limiter
	active atomic.Int64
}

// NewConnectionLimiter maxConns 与 perSecond 小于等于 0 时对应维度不限制
func NewConnectionLimiter(maxConns int, perSecond float64) *ConnectionLimiter {
	l := &ConnectionLimiter{rate: rate.NewLimiter(rate.Inf, 1)}
	if maxConns > 0 {
		l.slots = semaphore.NewWeighted(int64(maxConns))
	}
	if perSecond > 0 {
		l.rate = rate.NewLimiter(rate.Limit(perSecond), int(math.Ceil(perSecond)))
	}
	return l
}

// Admit 为新会话占用一个名额，失败时返回拒绝原因
func (l *ConnectionLimiter) Admit() error {
	if l == nil {
		return nil
	}
	if l.slots != nil && !l.slots.TryAcquire(1) {
		return errTooManySessions
	}
	if !l.rate.Allow() {
		if l.slots != nil {
			l.slots.Release(1)
		}
		return errConnectionRate
	}
	l.active.Add(1)
	return nil
}

// Leave 归还会话名额；每次成功的 Admit 对应一次 Leave
func (l *ConnectionLimiter) Leave() {
	if l == nil {
		return
	}
	if l.active.Add(-1) < 0 {
		l.active.Add(1)
		return
	}
	if l.slots != nil {
		l.slots.Release(1)
	}
}

// Active 当前会话数
func (l *ConnectionLimiter) Active() int {
	if l == nil {
		return 0
	}
	return int(l.active.Load())
}
