// Package vm implements the sasm virtual machine.
//
// This package contains:
//   - Tagged value representation and coercion rules
//   - The Program/Instruction model produced by the assembler
//   - The stack interpreter (call/return, branches, casts)
//   - The buffer arena and the six-argument syscall bridge
//   - A disassembler and an instruction profiler
package vm
