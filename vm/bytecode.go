package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the operation tag of an Instruction.
type Opcode byte

// Markers
const (
	OpLbl Opcode = iota // label definition (no-op)
	OpFun               // function definition (no-op)
)

// Stack operations
const (
	OpPsh Opcode = iota + 0x10
	OpPop
	OpDup
	OpRot
	OpLen
)

// Arithmetic and comparison
const (
	OpAdd Opcode = iota + 0x20
	OpSub
	OpMul
	OpDiv
	OpMod
	OpCmp
	OpTyp
)

// Control flow
const (
	OpJmp Opcode = iota + 0x30
	OpJnz
	OpJzr
	OpRun
	OpRet
)

// Memory and system
const (
	OpAlc Opcode = iota + 0x40
	OpDlc
	OpSys
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Mnemonic string // source spelling
	Operands string // operand syntax, empty for zero-operand opcodes
	Doc      string // one-line description
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpLbl: {"lbl", "", "label marker"},
	OpFun: {"fun", "", "function marker"},

	OpPsh: {"psh", "value[, value]*", "push literals; variables push their current binding"},
	OpPop: {"pop", "$var|_", "pop the top value into a variable, or discard it with _"},
	OpDup: {"dup", "", "push a copy of the top value"},
	OpRot: {"rot", "", "swap the top two values"},
	OpLen: {"len", "", "push the byte length of the top String or the size of the top Buffer"},

	OpAdd: {"add", "", "b + a; Strings concatenate top first"},
	OpSub: {"sub", "", "b - a"},
	OpMul: {"mul", "", "b * a; a String times an Integer repeats it"},
	OpDiv: {"div", "", "b / a"},
	OpMod: {"mod", "", "b % a"},
	OpCmp: {"cmp", "", "push whether the top two values are equal"},
	OpTyp: {"typ", "int|float|str|bool", "convert the top value to another kind"},

	OpJmp: {"jmp", ".label", "jump to a label"},
	OpJnz: {"jnz", ".label", "pop a value and jump if it is truthy"},
	OpJzr: {"jzr", ".label", "pop a value and jump if it is falsy"},
	OpRun: {"run", "@function", "call a function"},
	OpRet: {"ret", "", "return to the caller; from the entry function, exit with the top value"},

	OpAlc: {"alc", "*buffer, size", "allocate a zeroed buffer of size bytes"},
	OpDlc: {"dlc", "*buffer|$var", "free a buffer or unbind a variable"},
	OpSys: {"sys", "", "pop a syscall number and up to six arguments, push the result"},
}

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		if op == OpLbl || op == OpFun {
			continue
		}
		m[info.Mnemonic] = op
	}
	return m
}()

// LookupOpcode maps a source mnemonic to its opcode. Markers are not
// addressable by name.
func LookupOpcode(mnemonic string) (Opcode, bool) {
	op, ok := mnemonics[mnemonic]
	return op, ok
}

// Mnemonics returns every source-level opcode name, sorted.
func Mnemonics() []string {
	names := make([]string, 0, len(mnemonics))
	for name := range mnemonics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Mnemonic: fmt.Sprintf("op%02x", byte(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Mnemonic
}
