package vm

import (
	"errors"
	"testing"
	"unsafe"
)

// recordingSyscalls captures every call and answers with a fixed result.
type recordingSyscalls struct {
	trap   uintptr
	args   SyscallArgs
	calls  int
	result int64
	fn     func(args SyscallArgs)
}

func (r *recordingSyscalls) Syscall(trap uintptr, args SyscallArgs) (int64, error) {
	r.trap, r.args = trap, args
	r.calls++
	if r.fn != nil {
		r.fn(args)
	}
	return r.result, nil
}

func TestSysPassesScalarArguments(t *testing.T) {
	h := &recordingSyscalls{result: 3}
	res := mustRun(t, program(
		ins(OpPsh, Int(-1), Bool(true), Int(7), Int(60)),
		ins(OpSys),
	), WithSyscalls(h))

	if h.trap != 60 {
		t.Errorf("trap = %d, want 60", h.trap)
	}
	want := SyscallArgs{7, 1, ^uintptr(0), 0, 0, 0}
	if h.args != want {
		t.Errorf("args = %v, want %v", h.args, want)
	}
	assertStack(t, res.Stack, Int(3))
}

func TestSysTakesAtMostSixArguments(t *testing.T) {
	h := &recordingSyscalls{}
	res := mustRun(t, program(
		ins(OpPsh, Int(99), Int(6), Int(5), Int(4), Int(3), Int(2), Int(1), Int(0)),
		ins(OpSys),
	), WithSyscalls(h))

	want := SyscallArgs{1, 2, 3, 4, 5, 6}
	if h.args != want {
		t.Errorf("args = %v, want %v", h.args, want)
	}
	assertStack(t, res.Stack, Int(99), Int(0))
}

func TestSysWritesIntoBuffer(t *testing.T) {
	h := &recordingSyscalls{result: 5}
	h.fn = func(args SyscallArgs) {
		// Simulates read(fd, buf, n): the kernel writes through the pointer.
		dst := unsafe.Slice((*byte)(unsafe.Pointer(args[1])), args[2])
		copy(dst, "hello")
	}
	v, err := New(program(
		ins(OpAlc, BufferRef("*in"), Int(16)),
		ins(OpPsh, Int(16), BufferRef("*in"), Int(0), Int(0)),
		ins(OpSys),
	), WithSyscalls(h))
	if err != nil {
		t.Fatal(err)
	}
	res, err := v.Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	assertStack(t, res.Stack, Int(5))

	buf, _ := v.Buffer("*in")
	if got := string(buf.Bytes()[:5]); got != "hello" {
		t.Errorf("buffer = %q, want %q", got, "hello")
	}
}

func TestSysPassesNulTerminatedStrings(t *testing.T) {
	var seen string
	h := &recordingSyscalls{fn: func(args SyscallArgs) {
		p := (*byte)(unsafe.Pointer(args[0]))
		var b []byte
		for i := 0; ; i++ {
			c := *(*byte)(unsafe.Add(unsafe.Pointer(p), i))
			if c == 0 {
				break
			}
			b = append(b, c)
		}
		seen = string(b)
	}}
	mustRun(t, program(ins(OpPsh, Str("/tmp/x"), Int(2)), ins(OpSys)), WithSyscalls(h))
	if seen != "/tmp/x" {
		t.Errorf("path = %q, want %q", seen, "/tmp/x")
	}
}

func TestSysNegativeResult(t *testing.T) {
	h := &recordingSyscalls{result: -9}
	res := mustRun(t, program(ins(OpPsh, Int(0)), ins(OpSys)), WithSyscalls(h))
	assertStack(t, res.Stack, Int(-9))
}

func TestSysErrors(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want error
	}{
		{"number not integer", []Instruction{ins(OpPsh, Str("x")), ins(OpSys)}, ErrTypeMismatch},
		{"unknown buffer", []Instruction{ins(OpPsh, BufferRef("*nope"), Int(1)), ins(OpSys)}, ErrUnknownBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingSyscalls{}
			_, err := run(t, program(tt.code...), WithSyscalls(h))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if h.calls != 0 {
				t.Errorf("handler called %d times, want 0", h.calls)
			}
		})
	}
}

func TestDenyAndAllowSyscalls(t *testing.T) {
	v, err := New(program(ins(OpPsh, Int(5), Int(39)), ins(OpSys)), WithSyscalls(DenySyscalls))
	if err != nil {
		t.Fatal(err)
	}
	_, err = v.Run(t.Context())
	if !errors.Is(err, ErrSyscall) {
		t.Fatalf("err = %v, want ErrSyscall", err)
	}
	assertStack(t, v.Stack(), Int(5), Int(39))

	h := &recordingSyscalls{result: 1}
	allow := AllowSyscalls(h, 39)
	res := mustRun(t, program(ins(OpPsh, Int(39)), ins(OpSys)), WithSyscalls(allow))
	assertStack(t, res.Stack, Int(1))

	_, err = run(t, program(ins(OpPsh, Int(40)), ins(OpSys)), WithSyscalls(allow))
	if !errors.Is(err, ErrSyscall) {
		t.Errorf("disallowed call: err = %v, want ErrSyscall", err)
	}
	if h.calls != 1 {
		t.Errorf("handler called %d times, want 1", h.calls)
	}
}
