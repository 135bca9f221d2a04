package vm

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// VM: the stack machine
// ---------------------------------------------------------------------------

// VM executes one Program. All execution state (operand stack, call stack,
// variables, buffers) belongs to the VM value; nothing is shared between
// instances, so independent VMs may run on different goroutines.
//
// A VM is not safe for concurrent use.
type VM struct {
	prog *Program

	stack   []Value
	calls   []int
	vars    map[string]Value
	buffers *Arena
	ip      int
	steps   int64

	syscalls     SyscallHandler
	maxSteps     int64
	strictReturn bool
	profiler     *Profiler
}

// Result is the outcome of a completed run.
type Result struct {
	Stack    []Value // operand stack at halt, including the exit value
	ExitCode int
	Steps    int64
}

// Option configures a VM.
type Option func(*VM)

// WithSyscalls sets the handler used by the sys opcode. The default is
// NativeSyscalls.
func WithSyscalls(h SyscallHandler) Option {
	return func(vm *VM) { vm.syscalls = h }
}

// WithMaxSteps bounds the number of instructions a run may execute.
// Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(vm *VM) { vm.maxSteps = n }
}

// WithStrictReturn makes a ret with an empty call stack fail with
// ErrReturnWithoutCaller instead of exiting. Programs then terminate by
// running past their last instruction.
func WithStrictReturn() Option {
	return func(vm *VM) { vm.strictReturn = true }
}

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 1024

// New creates a VM for prog after checking the program invariants.
func New(prog *Program, opts ...Option) (*VM, error) {
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	vm := &VM{
		prog:     prog,
		stack:    make([]Value, 0, 64),
		vars:     make(map[string]Value),
		buffers:  NewArena(),
		syscalls: NativeSyscalls,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm, nil
}

// Execute is shorthand for New followed by Run.
func Execute(ctx context.Context, prog *Program, opts ...Option) (*Result, error) {
	vm, err := New(prog, opts...)
	if err != nil {
		return nil, err
	}
	return vm.Run(ctx)
}

// Run executes the program from its entry function until the entry function
// returns, the instruction stream ends, or an instruction fails. A failing
// run leaves the VM state as it was just before the failing instruction.
func (vm *VM) Run(ctx context.Context) (*Result, error) {
	code := vm.prog.Instructions
	vm.ip = vm.prog.Funcs[vm.prog.EntryName()]

	for {
		if vm.ip < 0 || vm.ip >= len(code) {
			return vm.halt(0), nil
		}
		in := &code[vm.ip]

		if vm.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, vm.locate(in, fmt.Errorf("vm: %w", err))
			}
		}
		if vm.maxSteps > 0 && vm.steps >= vm.maxSteps {
			return nil, vm.locate(in, &Error{Kind: ErrStepLimit, Msg: fmt.Sprintf("%d instructions", vm.maxSteps)})
		}
		vm.steps++
		if vm.profiler != nil {
			vm.profiler.record(in)
		}

		next, exit, err := vm.step(in)
		if err != nil {
			return nil, vm.locate(in, err)
		}
		if exit != nil {
			return exit, nil
		}
		vm.ip = next
	}
}

// locate fills in the source position of the failing instruction.
func (vm *VM) locate(in *Instruction, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if !e.Pos.IsValid() {
			e.Pos = in.Pos
		}
		if e.Origin == nil {
			e.Origin = in.Origin
		}
		return e
	}
	return &Error{Kind: err, Pos: in.Pos, Origin: in.Origin}
}

func (vm *VM) halt(code int) *Result {
	return &Result{Stack: vm.Stack(), ExitCode: code, Steps: vm.steps}
}

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []Value {
	out := make([]Value, len(vm.stack))
	copy(out, vm.stack)
	return out
}

// Var returns the current binding of a variable.
func (vm *VM) Var(name string) (Value, bool) {
	v, ok := vm.vars[name]
	return v, ok
}

// Buffer returns a live buffer.
func (vm *VM) Buffer(name string) (*Buffer, bool) {
	return vm.buffers.Lookup(name)
}

// CallDepth returns the number of pending returns.
func (vm *VM) CallDepth() int {
	return len(vm.calls)
}

// IP returns the instruction pointer.
func (vm *VM) IP() int {
	return vm.ip
}
