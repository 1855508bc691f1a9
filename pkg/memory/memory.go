package memory

import "sync"

// Memory keeps the most recent entries up to a fixed capacity, dropping the
// oldest first
type Memory struct {
	entries  []string
	capacity int
	mu       sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		entries:  make([]string, 0, capacity),
		capacity: capacity,
	}
}

// GetAll returns a copy of every stored entry, oldest first
func (m *Memory) GetAll() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]string, len(m.entries))
	copy(entries, m.entries)
	return entries
}

// Recent returns up to n of the newest entries, oldest first
func (m *Memory) Recent(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.entries) {
		n = len(m.entries)
	}
	if n <= 0 {
		return []string{}
	}
	entries := make([]string, n)
	copy(entries, m.entries[len(m.entries)-n:])
	return entries
}

func (m *Memory) Store(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == m.capacity {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, entry)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}
