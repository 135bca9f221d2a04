//go:build linux

package vm

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNativeGetpid(t *testing.T) {
	res := mustRun(t, program(ins(OpPsh, Int(unix.SYS_GETPID)), ins(OpSys)))
	if got := int(res.Stack[0].AsInt()); got != os.Getpid() {
		t.Errorf("getpid = %d, want %d", got, os.Getpid())
	}
}

func TestNativeWriteString(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	res := mustRun(t, program(
		ins(OpPsh, Int(2), Str("ok"), Int(int32(w.Fd())), Int(unix.SYS_WRITE)),
		ins(OpSys),
	))
	assertStack(t, res.Stack, Int(2))

	got := make([]byte, 2)
	if _, err := r.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "ok" {
		t.Errorf("read %q, want %q", got, "ok")
	}
}

func TestNativeErrnoIsNegative(t *testing.T) {
	// close(-1) fails with EBADF.
	res := mustRun(t, program(ins(OpPsh, Int(-1), Int(unix.SYS_CLOSE)), ins(OpSys)))
	if got := res.Stack[0].AsInt(); got != -int32(unix.EBADF) {
		t.Errorf("close(-1) = %d, want %d", got, -int32(unix.EBADF))
	}
}
