package target

import "sync"

// Register is a single host:port value that may be read and replaced
// concurrently.
type Register struct {
	mu   sync.RWMutex
	addr string
}

// NewRegister returns a Register holding addr.
func NewRegister(addr string) *Register {
	return &Register{addr: addr}
}

// Get returns the current address.
func (r *Register) Get() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

// Set replaces the current address. The value is stored as given; callers
// validate it with Valid first.
func (r *Register) Set(addr string) {
	r.mu.Lock()
	r.addr = addr
	r.mu.Unlock()
}
