package vm

import (
	"fmt"
	"runtime"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Syscall bridge
// ---------------------------------------------------------------------------

// SyscallArgs is the six machine words passed to the kernel.
type SyscallArgs [6]uintptr

// SyscallHandler performs the OS call for the sys opcode.
//
// A kernel failure is reported the way the raw syscall ABI reports it: as a
// negative errno in the result. A non-nil error means the call was refused
// and never reached the kernel.
type SyscallHandler interface {
	Syscall(trap uintptr, args SyscallArgs) (int64, error)
}

// SyscallFunc adapts a function to the SyscallHandler interface.
type SyscallFunc func(trap uintptr, args SyscallArgs) (int64, error)

func (f SyscallFunc) Syscall(trap uintptr, args SyscallArgs) (int64, error) {
	return f(trap, args)
}

// DenySyscalls refuses every call.
var DenySyscalls SyscallHandler = SyscallFunc(func(trap uintptr, _ SyscallArgs) (int64, error) {
	return 0, fmt.Errorf("syscall %d: syscalls are disabled", trap)
})

// AllowSyscalls forwards the listed syscall numbers to next and refuses the
// rest.
func AllowSyscalls(next SyscallHandler, numbers ...uintptr) SyscallHandler {
	allowed := make(map[uintptr]bool, len(numbers))
	for _, n := range numbers {
		allowed[n] = true
	}
	return SyscallFunc(func(trap uintptr, args SyscallArgs) (int64, error) {
		if !allowed[trap] {
			return 0, fmt.Errorf("syscall %d is not allowed", trap)
		}
		return next.Syscall(trap, args)
	})
}

// pinnedArgs holds the memory referenced by marshalled arguments. Every
// pointer handed to the kernel is pinned until release is called.
type pinnedArgs struct {
	words  SyscallArgs
	pinner runtime.Pinner
	keep   [][]byte
}

func (p *pinnedArgs) pin(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	p.pinner.Pin(&b[0])
	p.keep = append(p.keep, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

func (p *pinnedArgs) release() {
	p.pinner.Unpin()
	p.keep = nil
}

// marshalArgs converts stack values to machine words. Numeric kinds are cast
// directly; Strings are passed as the address of a NUL-terminated copy and
// Buffers as the address of their backing storage. Missing arguments stay 0.
func (vm *VM) marshalArgs(vals []Value) (*pinnedArgs, error) {
	p := &pinnedArgs{}
	for i, v := range vals {
		switch v.Kind() {
		case KindInteger:
			p.words[i] = uintptr(int64(v.AsInt()))
		case KindFloat:
			p.words[i] = uintptr(int64(v.AsFloat()))
		case KindBoolean:
			if v.AsBool() {
				p.words[i] = 1
			}
		case KindString:
			s := make([]byte, len(v.AsString())+1)
			copy(s, v.AsString())
			p.words[i] = p.pin(s)
		case KindBuffer:
			buf, ok := vm.buffers.Lookup(v.Name())
			if !ok {
				p.release()
				return nil, &Error{Kind: ErrUnknownBuffer, Msg: v.Name()}
			}
			p.words[i] = p.pin(buf.data)
		case KindVariable:
			p.release()
			return nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("sys: argument %d is an unresolved variable %s", i+1, v.Name())}
		default:
			p.release()
			return nil, &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("sys: argument %d has kind %s", i+1, v.Kind())}
		}
	}
	return p, nil
}
