package vm

import "fmt"

// DefaultEntry is the function execution starts at unless a program names
// another one.
const DefaultEntry = "@entry"

// Instruction is one assembled operation. Its index in Program.Instructions
// is its address.
type Instruction struct {
	Op     Opcode
	Params []Value
	Pos    Position
	Origin *DebugSymbol // position in the original file for bundled sources
}

// Program is the assembler output.
type Program struct {
	Instructions []Instruction
	Labels       map[string]int // ".name" -> address
	Funcs        map[string]int // "@name" -> address
	Entry        string
}

// EntryName returns the configured entry function, falling back to
// DefaultEntry.
func (p *Program) EntryName() string {
	if p.Entry == "" {
		return DefaultEntry
	}
	return p.Entry
}

// Validate checks the structural invariants the interpreter relies on:
// every jump names a label, every call names a function, every address is in
// range, and the entry function exists.
func (p *Program) Validate() error {
	n := len(p.Instructions)
	for name, addr := range p.Labels {
		if addr < 0 || addr > n {
			return &Error{Kind: ErrAssembly, Msg: fmt.Sprintf("label %s has address %d out of range", name, addr)}
		}
	}
	for name, addr := range p.Funcs {
		if addr < 0 || addr > n {
			return &Error{Kind: ErrAssembly, Msg: fmt.Sprintf("function %s has address %d out of range", name, addr)}
		}
	}
	for _, in := range p.Instructions {
		switch in.Op {
		case OpJmp, OpJnz, OpJzr:
			if len(in.Params) != 1 {
				return &Error{Kind: ErrAssembly, Msg: fmt.Sprintf("%s takes one label", in.Op), Pos: in.Pos}
			}
			if _, ok := p.Labels[in.Params[0].Name()]; !ok {
				return &Error{Kind: ErrTargetNotFound, Msg: "label " + in.Params[0].Name(), Pos: in.Pos, Origin: in.Origin}
			}
		case OpRun:
			if len(in.Params) != 1 {
				return &Error{Kind: ErrAssembly, Msg: "run takes one function", Pos: in.Pos}
			}
			if _, ok := p.Funcs[in.Params[0].Name()]; !ok {
				return &Error{Kind: ErrTargetNotFound, Msg: "function " + in.Params[0].Name(), Pos: in.Pos, Origin: in.Origin}
			}
		}
	}
	if _, ok := p.Funcs[p.EntryName()]; !ok {
		return &Error{Kind: ErrAssembly, Msg: fmt.Sprintf("entry function %s not defined", p.EntryName())}
	}
	return nil
}
