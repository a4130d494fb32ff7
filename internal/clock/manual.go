package clock

import "sync"

// Manual is a Clock driven by explicit Tick calls. Callbacks run synchronously
// on the goroutine calling Tick.
type Manual struct {
	mu        sync.Mutex
	armed     bool
	remaining int
	onTick    func(int)
	onExpire  func()
	arms      int
	ticks     int
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Arm(seconds int, onTick func(int), onExpire func()) {
	m.mu.Lock()
	m.arms++
	if seconds <= 0 {
		m.armed = false
		m.remaining = 0
		m.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return
	}
	m.armed = true
	m.remaining = seconds
	m.onTick = onTick
	m.onExpire = onExpire
	m.mu.Unlock()
}

// Tick advances the countdown by one second. It reports whether the clock was armed.
func (m *Manual) Tick() bool {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return false
	}
	m.ticks++
	m.remaining--
	remaining := m.remaining
	onTick, onExpire := m.onTick, m.onExpire
	expired := remaining <= 0
	if expired {
		m.armed = false
	}
	m.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
	return true
}

// Advance ticks n times, stopping early if the clock disarms.
func (m *Manual) Advance(n int) int {
	fired := 0
	for i := 0; i < n; i++ {
		if !m.Tick() {
			break
		}
		fired++
	}
	return fired
}

func (m *Manual) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
}

func (m *Manual) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

func (m *Manual) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Ticks returns how many ticks were delivered while armed.
func (m *Manual) Ticks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Arms returns how many times Arm was called.
func (m *Manual) Arms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arms
}
