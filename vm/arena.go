package vm

import "sort"

// ---------------------------------------------------------------------------
// Arena: named byte buffers
// ---------------------------------------------------------------------------

// Buffer is a named, fixed-size byte region usable as a syscall I/O target.
//
// The backing slice is allocated once by Alloc and never grown or replaced,
// so its first byte stays at the same address for the buffer's lifetime.
// The address itself is never stored: the syscall bridge resolves and pins it
// immediately before each call.
type Buffer struct {
	Name string
	Size int
	data []byte
}

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Arena owns every live buffer of one VM.
type Arena struct {
	buffers map[string]*Buffer
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{buffers: make(map[string]*Buffer)}
}

// Alloc creates a zero-initialized buffer. Allocating a name that is already
// live replaces the old buffer.
func (a *Arena) Alloc(name string, size int) *Buffer {
	b := &Buffer{Name: name, Size: size, data: make([]byte, size)}
	a.buffers[name] = b
	return b
}

// Free removes a buffer and reports whether it existed.
func (a *Arena) Free(name string) bool {
	if _, ok := a.buffers[name]; !ok {
		return false
	}
	delete(a.buffers, name)
	return true
}

// Lookup returns the named buffer.
func (a *Arena) Lookup(name string) (*Buffer, bool) {
	b, ok := a.buffers[name]
	return b, ok
}

// Names returns the live buffer names in sorted order.
func (a *Arena) Names() []string {
	names := make([]string, 0, len(a.buffers))
	for name := range a.buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of live buffers.
func (a *Arena) Len() int {
	return len(a.buffers)
}
