package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/sasm/vm"
)

// Integration tests: assemble and execute real sasm source

func execute(t *testing.T, src string, opts ...vm.Option) (*vm.Result, error) {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	opts = append([]vm.Option{vm.WithSyscalls(vm.DenySyscalls)}, opts...)
	return vm.Execute(context.Background(), prog, opts...)
}

func mustExecute(t *testing.T, src string) *vm.Result {
	t.Helper()
	res, err := execute(t, src)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	return res
}

func TestIntegrationAddExits(t *testing.T) {
	res := mustExecute(t, "@entry:\n psh 2\n psh 3\n add\n ret")
	if res.ExitCode != 5 {
		t.Errorf("ExitCode = %d, want 5", res.ExitCode)
	}
	if len(res.Stack) != 1 || !res.Stack[0].Equal(vm.Int(5)) {
		t.Errorf("Stack = %v, want [5]", res.Stack)
	}
}

func TestIntegrationOperandOrder(t *testing.T) {
	tests := []struct {
		src  string
		want vm.Value
	}{
		{"@entry:\n psh 5\n psh 3\n sub", vm.Int(2)},
		{"@entry:\n psh 20\n psh 4\n div", vm.Int(5)},
		{"@entry:\n psh 20\n psh 6\n mod", vm.Int(2)},
		{"@entry:\n psh \"foo\"\n psh \"bar\"\n add", vm.Str("barfoo")},
		{"@entry:\n psh \"ab\"\n psh 3\n mul", vm.Str("ababab")},
	}
	for _, tt := range tests {
		res := mustExecute(t, tt.src)
		if len(res.Stack) != 1 || !res.Stack[0].Equal(tt.want) {
			t.Errorf("%q: stack = %v, want [%v]", tt.src, res.Stack, tt.want)
		}
	}
}

func TestIntegrationDivisionByZero(t *testing.T) {
	_, err := execute(t, "@entry:\n psh 1\n psh 0\n div")
	if !errors.Is(err, vm.ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
}

func TestIntegrationForwardJump(t *testing.T) {
	res := mustExecute(t, `@entry:
	jmp .skip
	psh 99
	ret
.skip:
	psh 1
	ret
`)
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestIntegrationCallResumesAfterRun(t *testing.T) {
	res := mustExecute(t, `@entry:
	psh 10
	run @double
	psh 1
	add
	ret
@double:
	dup
	add
	ret
`)
	if res.ExitCode != 21 {
		t.Errorf("ExitCode = %d, want 21", res.ExitCode)
	}
}

func TestIntegrationBufferLength(t *testing.T) {
	res := mustExecute(t, "@entry:\n alc *b, 8\n psh *b\n len")
	if got := res.Stack[len(res.Stack)-1]; !got.Equal(vm.Int(8)) {
		t.Errorf("len = %v, want 8", got)
	}
}

func TestIntegrationCountdown(t *testing.T) {
	res := mustExecute(t, `@entry:
	psh 0
	pop $n
	psh 10
.loop:
	dup
	jzr .done
	psh $n
	psh 1
	add
	pop $n
	psh 1
	sub
	jmp .loop
.done:
	pop _
	psh $n
	ret
`)
	if res.ExitCode != 10 {
		t.Errorf("ExitCode = %d, want 10", res.ExitCode)
	}
}

func TestIntegrationTypRoundTrip(t *testing.T) {
	res := mustExecute(t, `@entry:
	psh 41
	typ str
	psh "1"
	add
	typ int
	ret
`)
	// "41" + "1" with the top first is "141".
	if res.ExitCode != 141 {
		t.Errorf("ExitCode = %d, want 141", res.ExitCode)
	}
}

func TestIntegrationMissingEntry(t *testing.T) {
	_, err := execute(t, "@main:\n psh 0\n ret")
	if !errors.Is(err, vm.ErrAssembly) {
		t.Errorf("err = %v, want ErrAssembly", err)
	}
}

func TestIntegrationUndeclaredBuffer(t *testing.T) {
	_, err := execute(t, "@entry:\n psh *x\n ret")
	if !errors.Is(err, vm.ErrAssembly) {
		t.Fatalf("err = %v, want ErrAssembly", err)
	}
	var e *vm.Error
	if errors.As(err, &e); e.Msg != "buffer not found: *x" {
		t.Errorf("msg = %q", e.Msg)
	}
}

func TestIntegrationRuntimeErrorPosition(t *testing.T) {
	_, err := execute(t, "@entry:\n psh 1\n psh \"x\"\n add")
	var e *vm.Error
	if !errors.As(err, &e) || !errors.Is(err, vm.ErrTypeMismatch) {
		t.Fatalf("err = %v, want type mismatch", err)
	}
	if e.Pos != (vm.Position{Line: 4, Col: 2}) {
		t.Errorf("pos = %v, want 4:2", e.Pos)
	}
}

func TestIntegrationStaleReferenceAfterDlc(t *testing.T) {
	// The assembler only sees declaration order; the stale reference pushed
	// before dlc is caught at run time.
	_, err := execute(t, `@entry:
	alc *b, 4
	psh *b
	dlc *b
	len
`)
	if !errors.Is(err, vm.ErrUnknownBuffer) {
		t.Errorf("err = %v, want ErrUnknownBuffer", err)
	}
}
