package vm

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler counts executed instructions per opcode and calls per function.
// One Profiler may be shared by VMs running on different goroutines; the
// counters are updated atomically.
type Profiler struct {
	ops   [256]atomic.Uint64
	calls sync.Map // function name -> *atomic.Uint64
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// WithProfiler records every executed instruction in p.
func WithProfiler(p *Profiler) Option {
	return func(vm *VM) { vm.profiler = p }
}

// record is called once per executed instruction.
func (p *Profiler) record(in *Instruction) {
	p.ops[in.Op].Add(1)
	if in.Op == OpRun {
		name := in.Params[0].Name()
		c, ok := p.calls.Load(name)
		if !ok {
			c, _ = p.calls.LoadOrStore(name, new(atomic.Uint64))
		}
		c.(*atomic.Uint64).Add(1)
	}
}

// OpCount returns how many times op was executed.
func (p *Profiler) OpCount(op Opcode) uint64 {
	return p.ops[op].Load()
}

// CallCount returns how many times the named function was called.
func (p *Profiler) CallCount(name string) uint64 {
	if c, ok := p.calls.Load(name); ok {
		return c.(*atomic.Uint64).Load()
	}
	return 0
}

// Total returns the number of instructions recorded, markers included.
func (p *Profiler) Total() uint64 {
	var n uint64
	for i := range p.ops {
		n += p.ops[i].Load()
	}
	return n
}

// ProfileEntry is one line of a profile report.
type ProfileEntry struct {
	Name  string
	Count uint64
}

// Opcodes returns the executed opcodes, most frequent first.
func (p *Profiler) Opcodes() []ProfileEntry {
	var out []ProfileEntry
	for i := range p.ops {
		if n := p.ops[i].Load(); n > 0 {
			out = append(out, ProfileEntry{Opcode(i).String(), n})
		}
	}
	sortEntries(out)
	return out
}

// Functions returns the called functions, most frequent first.
func (p *Profiler) Functions() []ProfileEntry {
	var out []ProfileEntry
	p.calls.Range(func(k, v any) bool {
		out = append(out, ProfileEntry{k.(string), v.(*atomic.Uint64).Load()})
		return true
	})
	sortEntries(out)
	return out
}

func sortEntries(entries []ProfileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
}

// WriteReport prints the opcode and call counts.
func (p *Profiler) WriteReport(w io.Writer) {
	fmt.Fprintf(w, "; %d instructions\n", p.Total())
	for _, e := range p.Opcodes() {
		fmt.Fprintf(w, "%-6s %10d\n", e.Name, e.Count)
	}
	if fns := p.Functions(); len(fns) > 0 {
		fmt.Fprintf(w, "; calls\n")
		for _, e := range fns {
			fmt.Fprintf(w, "%-20s %10d\n", e.Name, e.Count)
		}
	}
}
