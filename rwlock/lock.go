// Package rwlock implements a reentrant, priority-ordered reader/writer
// lock. It mediates every tree operation: callers acquire shared mode for
// reads and exclusive mode for mutation, each acquisition carrying a
// numeric priority so urgent callers can jump the queue ahead of routine
// ones.
//
// Go has no notion of a "current thread" the way the lock's origin does,
// so reentrancy is tracked against an explicit Token the caller obtains
// once (typically per goroutine, or per logical session) and passes to
// every Acquire/Release call it makes.
package rwlock

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/merkletreedb/mtree/log"
	"github.com/merkletreedb/mtree/metrics"
)

// Priority orders waiters in the acquisition queue; higher values are more
// urgent.
type Priority int

// Standard priority levels. Callers are free to use other values; only
// relative ordering matters.
const (
	LOW    Priority = 1
	MEDIUM Priority = 5
	HIGH   Priority = 10
)

// DefaultUnhealthyThreshold is the wait duration past which an acquisition
// is logged as unhealthy.
const DefaultUnhealthyThreshold = 5 * time.Second

// ErrLockMisuse is returned when a release is attempted by a token that
// does not currently hold the mode being released.
var ErrLockMisuse = errors.New("rwlock: release attempted by non-holder")

// Token identifies a logical holder across reentrant acquire/release
// calls. Obtain one with NewToken and reuse it for the lifetime of the
// goroutine (or session) that owns it.
type Token int64

var tokenSeq int64

// NewToken allocates a fresh, process-unique Token.
func NewToken() Token {
	return Token(atomic.AddInt64(&tokenSeq, 1))
}

type mode int

const (
	modeShared mode = iota
	modeExclusive
)

type waiter struct {
	token    Token
	mode     mode
	priority Priority
	seq      int64
	index    int
	grant    chan struct{}
}

// waiterHeap orders waiters by priority (higher first), then by arrival
// order within a priority (most recent first -- LIFO), mirroring the
// tip-ordering heap used for transaction priority elsewhere in this
// codebase's ancestry.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq > h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// PriorityRWLock is a reentrant shared/exclusive lock with a
// priority-ordered, writer-preferring wait queue.
type PriorityRWLock struct {
	mu  sync.Mutex
	log *log.Logger

	name string

	readCount int
	readers   map[Token]int

	writerHeld bool
	writer     Token
	writeCount int

	waiters        waiterHeap
	seq            int64
	waitingWriters int

	unhealthyThreshold time.Duration
}

// New creates a free PriorityRWLock. name is used only for diagnostic log
// lines.
func New(name string) *PriorityRWLock {
	return &PriorityRWLock{
		name:               name,
		readers:            make(map[Token]int),
		unhealthyThreshold: DefaultUnhealthyThreshold,
		log:                log.Default().Module("rwlock").With("lock", name),
	}
}

// SetUnhealthyThreshold overrides the wait duration past which an
// acquisition is logged as unhealthy.
func (l *PriorityRWLock) SetUnhealthyThreshold(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unhealthyThreshold = d
}

func (l *PriorityRWLock) nextSeq() int64 {
	l.seq++
	return l.seq
}

func (l *PriorityRWLock) canGrantReadLocked() bool {
	return !l.writerHeld && l.waitingWriters == 0
}

func (l *PriorityRWLock) canGrantWriteLocked() bool {
	return !l.writerHeld && l.readCount == 0 && l.waiters.Len() == 0
}

func (l *PriorityRWLock) grantReadLocked(token Token) {
	l.readers[token]++
	l.readCount++
}

func (l *PriorityRWLock) grantWriteLocked(token Token) {
	l.writerHeld = true
	l.writer = token
	l.writeCount = 1
}

// wakeLocked grants the lock to as many queued waiters as the current
// state allows, in priority/LIFO order. Exactly one exclusive waiter is
// granted at a time; any number of consecutive shared waiters at the head
// of the queue are granted together.
func (l *PriorityRWLock) wakeLocked() {
	for l.waiters.Len() > 0 {
		top := l.waiters[0]
		switch top.mode {
		case modeExclusive:
			if l.writerHeld || l.readCount > 0 {
				return
			}
			heap.Pop(&l.waiters)
			l.waitingWriters--
			l.grantWriteLocked(top.token)
			top.grant <- struct{}{}
			return
		case modeShared:
			if l.writerHeld {
				return
			}
			heap.Pop(&l.waiters)
			l.grantReadLocked(top.token)
			top.grant <- struct{}{}
		}
	}
}

func (l *PriorityRWLock) recordWait(start time.Time, contended bool) {
	elapsed := time.Since(start)
	metrics.LockWaitMillis.Observe(float64(elapsed.Milliseconds()))
	if contended {
		metrics.LockContended.Inc()
	}
	if elapsed > l.unhealthyThreshold {
		metrics.LockUnhealthyWaits.Inc()
		l.log.Warn("lock acquisition exceeded unhealthy threshold",
			"waitMillis", elapsed.Milliseconds(), "thresholdMillis", l.unhealthyThreshold.Milliseconds())
	}
}

// AcquireRead blocks until shared mode is granted to token, the timeout
// elapses, or the request is abandoned. A timeout of zero or less means
// wait forever. Returns false, nil on timeout.
func (l *PriorityRWLock) AcquireRead(timeout time.Duration, token Token, priority Priority) (bool, error) {
	start := time.Now()
	l.mu.Lock()

	if c := l.readers[token]; c > 0 {
		l.readers[token] = c + 1
		l.readCount++
		l.mu.Unlock()
		return true, nil
	}

	if l.canGrantReadLocked() {
		l.grantReadLocked(token)
		l.mu.Unlock()
		l.recordWait(start, false)
		return true, nil
	}

	w := &waiter{token: token, mode: modeShared, priority: priority, seq: l.nextSeq(), grant: make(chan struct{}, 1)}
	heap.Push(&l.waiters, w)
	l.mu.Unlock()

	return l.waitForGrant(w, timeout, start)
}

// AcquireWrite blocks until exclusive mode is granted to token, the
// timeout elapses, or the request is abandoned. A timeout of zero or less
// means wait forever. Returns false, nil on timeout.
func (l *PriorityRWLock) AcquireWrite(timeout time.Duration, token Token, priority Priority) (bool, error) {
	start := time.Now()
	l.mu.Lock()

	if l.writerHeld && l.writer == token {
		l.writeCount++
		l.mu.Unlock()
		return true, nil
	}

	if l.canGrantWriteLocked() {
		l.grantWriteLocked(token)
		l.mu.Unlock()
		l.recordWait(start, false)
		return true, nil
	}

	w := &waiter{token: token, mode: modeExclusive, priority: priority, seq: l.nextSeq(), grant: make(chan struct{}, 1)}
	heap.Push(&l.waiters, w)
	l.waitingWriters++
	l.mu.Unlock()

	return l.waitForGrant(w, timeout, start)
}

func (l *PriorityRWLock) waitForGrant(w *waiter, timeout time.Duration, start time.Time) (bool, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.grant:
		l.recordWait(start, true)
		return true, nil
	case <-timeoutCh:
		l.mu.Lock()
		select {
		case <-w.grant:
			// Granted in the race between the timer firing and wakeLocked;
			// honor the grant rather than discard it.
			l.mu.Unlock()
			l.recordWait(start, true)
			return true, nil
		default:
		}
		if w.index >= 0 {
			heap.Remove(&l.waiters, w.index)
			if w.mode == modeExclusive {
				l.waitingWriters--
			}
		}
		l.mu.Unlock()
		return false, nil
	}
}

// TryAcquireWrite makes a single non-blocking attempt at exclusive mode.
// It succeeds only if no incompatible holder exists and no strictly
// higher-priority request is already queued ahead of priority.
func (l *PriorityRWLock) TryAcquireWrite(token Token, priority Priority) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writerHeld && l.writer == token {
		l.writeCount++
		return true
	}
	if l.writerHeld || l.readCount > 0 {
		return false
	}
	for _, w := range l.waiters {
		if w.priority > priority {
			return false
		}
	}
	l.grantWriteLocked(token)
	return true
}

// ReleaseRead releases one level of shared ownership held by token.
// ErrLockMisuse if token does not currently hold shared mode.
func (l *PriorityRWLock) ReleaseRead(token Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.readers[token]
	if !ok || c == 0 {
		return ErrLockMisuse
	}
	c--
	if c == 0 {
		delete(l.readers, token)
	} else {
		l.readers[token] = c
	}
	l.readCount--
	l.wakeLocked()
	return nil
}

// ReleaseWrite releases one level of exclusive ownership held by token.
// ErrLockMisuse if token is not the current writer.
func (l *PriorityRWLock) ReleaseWrite(token Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.writerHeld || l.writer != token {
		return ErrLockMisuse
	}
	l.writeCount--
	if l.writeCount > 0 {
		return nil
	}
	l.writerHeld = false
	l.writer = 0
	l.wakeLocked()
	return nil
}

// Stats is a diagnostic snapshot of the lock's current state, surfaced
// through Tree.GetRamInfo.
type Stats struct {
	ReadCount      int
	WriterHeld     bool
	WriteCount     int
	QueuedWaiters  int
	WaitingWriters int
}

// Stats returns a point-in-time snapshot of the lock's internal state.
func (l *PriorityRWLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ReadCount:      l.readCount,
		WriterHeld:     l.writerHeld,
		WriteCount:     l.writeCount,
		QueuedWaiters:  l.waiters.Len(),
		WaitingWriters: l.waitingWriters,
	}
}
