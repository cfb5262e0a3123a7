package arena

import "sync"

// StringPool interns strings on top of an Arena. Content may or may not be
// deduplicated across calls to Intern with the same text (the spec leaves
// this an implementation choice); this pool does dedup, since the dedup map
// lookup is cheap next to the hundreds of thousands of repeated sonames and
// directory components a filesystem scan produces.
type StringPool struct {
	arena *Arena

	mu      sync.RWMutex
	interned map[string]string
}

// NewStringPool creates a StringPool backed by a fresh Arena.
func NewStringPool() *StringPool {
	return &StringPool{
		arena:    New(),
		interned: make(map[string]string, 4096),
	}
}

// Intern returns the pool's canonical copy of s. The first call with a given
// text allocates arena-owned storage for it; subsequent calls with equal
// text return the same Go string value, so the result is suitable as a
// hash-map key with the property that equal content always compares `==`
// cheaply (same underlying pointer+len after the first intern).
func (p *StringPool) Intern(s string) string {
	if s == "" {
		return ""
	}
	p.mu.RLock()
	if v, ok := p.interned[s]; ok {
		p.mu.RUnlock()
		return v
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.interned[s]; ok {
		return v
	}
	v := p.arena.AllocString(s)
	p.interned[v] = v
	return v
}

// Len returns how many distinct strings have been interned so far.
func (p *StringPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.interned)
}
