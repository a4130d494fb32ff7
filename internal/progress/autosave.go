package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Autosaver coalesces frequent snapshot writes for one key. Only the most
// recent pending snapshot is written, and writes never overlap, so the stored
// value is always a whole snapshot and the last write wins.
type Autosaver struct {
	store   Store
	key     string
	delay   time.Duration
	timeout time.Duration
	log     *zap.Logger

	writeMu sync.Mutex // serialises take-and-write

	mu      sync.Mutex
	pending *Snapshot
	clear   bool
	closed  bool
	lastErr error

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewAutosaver starts a background writer. delay debounces bursts of saves.
func NewAutosaver(store Store, key string, delay time.Duration, log *zap.Logger) *Autosaver {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Autosaver{
		store:   store,
		key:     key,
		delay:   delay,
		timeout: 5 * time.Second,
		log:     log.With(zap.String("progress_key", key)),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Save queues a snapshot, replacing any snapshot not yet written.
func (a *Autosaver) Save(s Snapshot) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = &s
	a.mu.Unlock()
	a.signal()
}

// Clear drops any pending snapshot and queues removal of the stored one.
func (a *Autosaver) Clear() {
	a.mu.Lock()
	a.pending = nil
	a.clear = true
	a.mu.Unlock()
	a.signal()
}

// Flush writes whatever is pending now and returns the last write error.
func (a *Autosaver) Flush() error {
	a.drain()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Close flushes and stops the background writer. Later saves are ignored.
func (a *Autosaver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	close(a.quit)
	<-a.done
	return a.Flush()
}

func (a *Autosaver) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Autosaver) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		case <-a.wake:
		}
		if a.delay > 0 {
			timer := time.NewTimer(a.delay)
			select {
			case <-a.quit:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		a.drain()
	}
}

func (a *Autosaver) drain() {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	snap, clear := a.pending, a.clear
	a.pending, a.clear = nil, false
	a.mu.Unlock()
	if snap == nil && !clear {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	var err error
	if clear {
		if err = a.store.Clear(ctx, a.key); err != nil {
			a.log.Warn("clear progress snapshot failed", zap.Error(err))
		}
	}
	if snap != nil {
		if err = a.store.Save(ctx, a.key, *snap); err != nil {
			a.log.Warn("save progress snapshot failed", zap.Error(err))
		}
	}
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}
