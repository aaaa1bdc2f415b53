package ctrlstream

import "github.com/fabtsuite/fabtsuite/internal/buffer"

// Pool is a stack of spare control buffers (progress or vector),
// lazily growing past its initial fill via newFn (spec §4.3 Tx
// control: "a pool of spare control buffers").
type Pool struct {
	stack []*buffer.Buffer
	newFn func() *buffer.Buffer
}

// NewPool creates a pool pre-filled with n buffers built by newFn.
func NewPool(n int, newFn func() *buffer.Buffer) *Pool {
	p := &Pool{newFn: newFn}
	for i := 0; i < n; i++ {
		p.stack = append(p.stack, newFn())
	}
	return p
}

// Get pops a spare buffer, allocating a new one if the pool is empty.
func (p *Pool) Get() *buffer.Buffer {
	if n := len(p.stack); n > 0 {
		b := p.stack[n-1]
		p.stack = p.stack[:n-1]
		return b
	}
	return p.newFn()
}

// Put returns b to the pool after resetting it.
func (p *Pool) Put(b *buffer.Buffer) {
	b.Reset()
	p.stack = append(p.stack, b)
}

// Len reports how many buffers currently sit idle in the pool.
func (p *Pool) Len() int {
	return len(p.stack)
}
