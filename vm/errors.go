package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every *Error wraps exactly one of these, so callers can
// classify failures with errors.Is.
var (
	ErrLex                 = errors.New("lex error")
	ErrAssembly            = errors.New("assembly error")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnboundVariable     = errors.New("unbound variable")
	ErrUnknownBuffer       = errors.New("unknown buffer")
	ErrTargetNotFound      = errors.New("label or function not found")
	ErrInvalidCast         = errors.New("invalid cast")
	ErrReturnWithoutCaller = errors.New("return with no caller")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrSyscall             = errors.New("syscall failed")
	ErrStepLimit           = errors.New("step limit exceeded")
)

// Position is a 1-based line/column location in source text.
type Position struct {
	Line int
	Col  int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// IsValid reports whether the position points into source text.
func (p Position) IsValid() bool {
	return p.Line > 0
}

// DebugSymbol records where a bundled label or function was originally defined.
type DebugSymbol struct {
	Path string
	Line int
	Col  int
}

func (d DebugSymbol) String() string {
	return fmt.Sprintf("%s:%d:%d", d.Path, d.Line, d.Col)
}

// Error is a failure raised while lexing, assembling or executing a program.
type Error struct {
	Kind   error        // one of the Err* categories
	Msg    string       // detail, may be empty
	Pos    Position     // offending token or instruction
	Origin *DebugSymbol // original source location, when known
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, " at %s", e.Pos)
	}
	if e.Origin != nil {
		fmt.Fprintf(&b, " (from %s)", e.Origin)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, pos Position, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// typeMismatch names both operand tags, as every binary operator error does.
func typeMismatch(op Opcode, a, b Value) error {
	return &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("%s: unsupported operands %s and %s", op, b.Kind(), a.Kind())}
}
