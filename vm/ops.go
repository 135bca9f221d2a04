package vm

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Instruction dispatch
// ---------------------------------------------------------------------------

// step executes one instruction and returns the next instruction pointer.
// A non-nil Result means the program exited. Every case checks all of its
// preconditions before touching VM state.
func (vm *VM) step(in *Instruction) (int, *Result, error) {
	next := vm.ip + 1

	switch in.Op {
	case OpLbl, OpFun:
		// markers only

	case OpPsh:
		vals := make([]Value, len(in.Params))
		for i, p := range in.Params {
			if p.Kind() == KindVariable {
				bound, ok := vm.vars[p.Name()]
				if !ok {
					return 0, nil, &Error{Kind: ErrUnboundVariable, Msg: p.Name()}
				}
				p = bound
			}
			vals[i] = p
		}
		vm.stack = append(vm.stack, vals...)

	case OpPop:
		v, err := vm.pop()
		if err != nil {
			return 0, nil, err
		}
		if name := in.Params[0].Name(); name != DiscardName {
			vm.vars[name] = v
		}

	case OpDup:
		top, err := vm.peek()
		if err != nil {
			return 0, nil, err
		}
		vm.stack = append(vm.stack, top)

	case OpRot:
		if err := vm.need(in.Op, 2); err != nil {
			return 0, nil, err
		}
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		if err := vm.need(in.Op, 2); err != nil {
			return 0, nil, err
		}
		n := len(vm.stack)
		a, b := vm.stack[n-1], vm.stack[n-2]
		r, err := arith(in.Op, a, b)
		if err != nil {
			return 0, nil, err
		}
		vm.stack = append(vm.stack[:n-2], r)

	case OpCmp:
		if err := vm.need(in.Op, 2); err != nil {
			return 0, nil, err
		}
		n := len(vm.stack)
		a, b := vm.stack[n-1], vm.stack[n-2]
		eq, err := compare(a, b)
		if err != nil {
			return 0, nil, err
		}
		vm.stack = append(vm.stack[:n-2], Bool(eq))

	case OpJmp:
		target, err := vm.label(in)
		if err != nil {
			return 0, nil, err
		}
		next = target

	case OpJnz, OpJzr:
		top, err := vm.peek()
		if err != nil {
			return 0, nil, err
		}
		t, err := truthy(in.Op, top)
		if err != nil {
			return 0, nil, err
		}
		target, err := vm.label(in)
		if err != nil {
			return 0, nil, err
		}
		vm.stack = vm.stack[:len(vm.stack)-1]
		if t == (in.Op == OpJnz) {
			next = target
		}

	case OpTyp:
		top, err := vm.peek()
		if err != nil {
			return 0, nil, err
		}
		r, err := vm.cast(top, in.Params[0].AsString())
		if err != nil {
			return 0, nil, err
		}
		vm.stack[len(vm.stack)-1] = r

	case OpRun:
		name := in.Params[0].Name()
		target, ok := vm.prog.Funcs[name]
		if !ok {
			return 0, nil, &Error{Kind: ErrTargetNotFound, Msg: "function " + name}
		}
		vm.calls = append(vm.calls, vm.ip)
		next = target

	case OpRet:
		if n := len(vm.calls); n > 0 {
			next = vm.calls[n-1] + 1
			vm.calls = vm.calls[:n-1]
			break
		}
		if vm.strictReturn {
			return 0, nil, &Error{Kind: ErrReturnWithoutCaller}
		}
		if len(vm.stack) == 0 {
			return 0, nil, &Error{Kind: ErrStackUnderflow, Msg: "ret: no exit code"}
		}
		top := vm.stack[len(vm.stack)-1]
		if top.Kind() != KindInteger {
			return 0, nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("ret: exit code must be Integer, got %s", top.Kind())}
		}
		return 0, vm.halt(int(top.AsInt())), nil

	case OpSys:
		if err := vm.sys(); err != nil {
			return 0, nil, err
		}

	case OpLen:
		top, err := vm.peek()
		if err != nil {
			return 0, nil, err
		}
		var n int
		switch top.Kind() {
		case KindString:
			n = len(top.AsString())
		case KindBuffer:
			buf, ok := vm.buffers.Lookup(top.Name())
			if !ok {
				return 0, nil, &Error{Kind: ErrUnknownBuffer, Msg: top.Name()}
			}
			n = buf.Size
		default:
			return 0, nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("len: unsupported operand %s", top.Kind())}
		}
		vm.stack = append(vm.stack, Int(int32(n)))

	case OpAlc:
		name, size := in.Params[0].Name(), in.Params[1].AsInt()
		if size < 0 {
			return 0, nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("alc: negative size %d", size)}
		}
		vm.buffers.Alloc(name, int(size))

	case OpDlc:
		ref := in.Params[0]
		switch ref.Kind() {
		case KindVariable:
			if _, ok := vm.vars[ref.Name()]; !ok {
				return 0, nil, &Error{Kind: ErrUnboundVariable, Msg: ref.Name()}
			}
			delete(vm.vars, ref.Name())
		case KindBuffer:
			if !vm.buffers.Free(ref.Name()) {
				return 0, nil, &Error{Kind: ErrUnknownBuffer, Msg: ref.Name()}
			}
		default:
			return 0, nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("dlc: unsupported operand %s", ref.Kind())}
		}

	default:
		return 0, nil, &Error{Kind: ErrAssembly, Msg: fmt.Sprintf("unknown opcode %s", in.Op)}
	}

	return next, nil, nil
}

// DiscardName is the pop operand that drops the value instead of binding it.
const DiscardName = "_"

func (vm *VM) pop() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Value{}, &Error{Kind: ErrStackUnderflow}
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

func (vm *VM) peek() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Value{}, &Error{Kind: ErrStackUnderflow}
	}
	return vm.stack[n-1], nil
}

func (vm *VM) need(op Opcode, n int) error {
	if len(vm.stack) < n {
		return &Error{Kind: ErrStackUnderflow, Msg: fmt.Sprintf("%s needs %d operands, have %d", op, n, len(vm.stack))}
	}
	return nil
}

func (vm *VM) label(in *Instruction) (int, error) {
	name := in.Params[0].Name()
	target, ok := vm.prog.Labels[name]
	if !ok {
		return 0, &Error{Kind: ErrTargetNotFound, Msg: "label " + name}
	}
	return target, nil
}

// sys pops the syscall number and up to six arguments, performs the call and
// pushes the signed result. The stack is untouched if the call is refused.
func (vm *VM) sys() error {
	num, err := vm.peek()
	if err != nil {
		return err
	}
	if num.Kind() != KindInteger {
		return &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("sys: syscall number must be Integer, got %s", num.Kind())}
	}

	n := len(vm.stack) - 1
	count := min(n, len(SyscallArgs{}))
	args := make([]Value, count)
	for i := range args {
		args[i] = vm.stack[n-1-i]
	}

	pinned, err := vm.marshalArgs(args)
	if err != nil {
		return err
	}
	r, err := vm.syscalls.Syscall(uintptr(num.AsInt()), pinned.words)
	pinned.release()
	if err != nil {
		return &Error{Kind: ErrSyscall, Msg: err.Error()}
	}

	vm.stack = append(vm.stack[:n-count], Int(int32(r)))
	return nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// arith computes b OP a, where a was on top of the stack. String
// concatenation is the exception.
func arith(op Opcode, a, b Value) (Value, error) {
	switch {
	case a.Kind() == KindInteger && b.Kind() == KindInteger:
		x, y := b.AsInt(), a.AsInt()
		switch op {
		case OpAdd:
			return Int(x + y), nil
		case OpSub:
			return Int(x - y), nil
		case OpMul:
			return Int(x * y), nil
		case OpDiv:
			if y == 0 {
				return Value{}, &Error{Kind: ErrDivisionByZero, Msg: fmt.Sprintf("%d / 0", x)}
			}
			return Int(x / y), nil
		case OpMod:
			if y == 0 {
				return Value{}, &Error{Kind: ErrDivisionByZero, Msg: fmt.Sprintf("%d %% 0", x)}
			}
			return Int(x % y), nil
		}

	case a.Kind() == KindFloat && b.Kind() == KindFloat:
		x, y := b.AsFloat(), a.AsFloat()
		switch op {
		case OpAdd:
			return Float(x + y), nil
		case OpSub:
			return Float(x - y), nil
		case OpMul:
			return Float(x * y), nil
		case OpDiv:
			return Float(x / y), nil
		case OpMod:
			return Float(float32(math.Mod(float64(x), float64(y)))), nil
		}

	case op == OpAdd && a.Kind() == KindString && b.Kind() == KindString:
		// Strings concatenate right to left: the top value comes first.
		return Str(a.AsString() + b.AsString()), nil

	case op == OpMul && a.Kind() == KindString && b.Kind() == KindInteger:
		return repeat(a.AsString(), b.AsInt())

	case op == OpMul && a.Kind() == KindInteger && b.Kind() == KindString:
		return repeat(b.AsString(), a.AsInt())
	}
	return Value{}, typeMismatch(op, a, b)
}

func repeat(s string, count int32) (Value, error) {
	if count < 0 {
		return Value{}, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("mul: negative repeat count %d", count)}
	}
	return Str(strings.Repeat(s, int(count))), nil
}

// compare is defined only for matching scalar kinds.
func compare(a, b Value) (bool, error) {
	if a.Kind() != b.Kind() {
		return false, typeMismatch(OpCmp, a, b)
	}
	switch a.Kind() {
	case KindInteger, KindFloat, KindString, KindBoolean:
		return a.Equal(b), nil
	}
	return false, typeMismatch(OpCmp, a, b)
}

func truthy(op Opcode, v Value) (bool, error) {
	switch v.Kind() {
	case KindInteger:
		return v.AsInt() != 0, nil
	case KindFloat:
		return v.AsFloat() != 0, nil
	case KindString:
		return v.AsString() != "", nil
	case KindBoolean:
		return v.AsBool(), nil
	}
	return false, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("%s: %s has no truth value", op, v.Kind())}
}
