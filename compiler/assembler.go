package compiler

import (
	"fmt"
	"unicode/utf8"

	"github.com/chazu/sasm/vm"
)

// ---------------------------------------------------------------------------
// Assembler: tokens -> vm.Program
// ---------------------------------------------------------------------------

// Assembler turns a token stream into a Program in a single pass. Label and
// function names are recorded as they are defined; jump and call targets are
// checked once the whole stream has been consumed, so forward references
// are legal.
//
// Buffer and variable names follow declare-before-use in token order: alc and
// pop declare, dlc forgets, and psh may only reference declared names. The
// check is lexical, not control-flow aware.
type Assembler struct {
	tokens []Token
	pos    int
	entry  string

	prog    *vm.Program
	buffers map[string]bool
	vars    map[string]bool
	refs    []targetRef

	pending    *vm.DebugSymbol // symbol waiting for the statement it annotates
	pendingTok Token
	origin     *originBase // symbol in effect for emitted instructions
}

type targetRef struct {
	name string
	fn   bool
	pos  vm.Position
}

// originBase maps positions in the assembled text back to sym. The token at
// line:col is the one sym describes.
type originBase struct {
	sym  vm.DebugSymbol
	line int
	col  int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEntry sets the function execution starts at. Defaults to vm.DefaultEntry.
func WithEntry(name string) Option {
	return func(a *Assembler) {
		if name != "" {
			a.entry = name
		}
	}
}

// NewAssembler creates an assembler for the given tokens.
func NewAssembler(tokens []Token, opts ...Option) *Assembler {
	a := &Assembler{
		tokens:  tokens,
		entry:   vm.DefaultEntry,
		buffers: make(map[string]bool),
		vars:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compile lexes and assembles source text.
func Compile(source string, opts ...Option) (*vm.Program, error) {
	tokens, err := Lex(source)
	if err != nil {
		return nil, err
	}
	return Assemble(tokens, opts...)
}

// Assemble turns tokens into a Program, failing on the first structural
// error. No partial program is returned.
func Assemble(tokens []Token, opts ...Option) (*vm.Program, error) {
	return NewAssembler(tokens, opts...).Assemble()
}

// Assemble runs the pass.
func (a *Assembler) Assemble() (*vm.Program, error) {
	a.prog = &vm.Program{
		Labels: make(map[string]int),
		Funcs:  make(map[string]int),
		Entry:  a.entry,
	}

	for a.pos < len(a.tokens) {
		if err := a.statement(); err != nil {
			return nil, err
		}
	}
	if a.pending != nil {
		return nil, a.errorf(a.last().Pos, "debug symbol <%s> is not followed by a label or function", a.pending)
	}

	for _, ref := range a.refs {
		table, kind := a.prog.Labels, "label"
		if ref.fn {
			table, kind = a.prog.Funcs, "function"
		}
		if _, ok := table[ref.name]; !ok {
			return nil, a.errorf(ref.pos, "%s %s not found", kind, ref.name)
		}
	}
	if _, ok := a.prog.Funcs[a.entry]; !ok {
		return nil, &vm.Error{Kind: vm.ErrAssembly, Msg: fmt.Sprintf("entry function %s not defined", a.entry)}
	}
	return a.prog, nil
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (a *Assembler) next() (Token, bool) {
	if a.pos >= len(a.tokens) {
		return Token{}, false
	}
	tok := a.tokens[a.pos]
	a.pos++
	return tok, true
}

func (a *Assembler) peek() (Token, bool) {
	if a.pos >= len(a.tokens) {
		return Token{}, false
	}
	return a.tokens[a.pos], true
}

func (a *Assembler) last() Token {
	if len(a.tokens) == 0 {
		return Token{}
	}
	return a.tokens[len(a.tokens)-1]
}

func (a *Assembler) errorf(pos vm.Position, format string, args ...any) *vm.Error {
	return vm.Errorf(vm.ErrAssembly, pos, format, args...)
}

// operand consumes the next token, which must be one of the given types.
func (a *Assembler) operand(op vm.Opcode, at vm.Position, types ...TokenType) (Token, error) {
	tok, ok := a.next()
	if !ok {
		return Token{}, a.errorf(at, "%s: missing operand %s", op, op.Info().Operands)
	}
	for _, t := range types {
		if tok.Type == t {
			return tok, nil
		}
	}
	return Token{}, a.errorf(tok.Pos, "%s: unexpected %s, want %s", op, tok, op.Info().Operands)
}

func (a *Assembler) comma(op vm.Opcode, at vm.Position) error {
	tok, ok := a.next()
	if !ok {
		return a.errorf(at, "%s: expected ','", op)
	}
	if !tok.IsPunct(",") {
		return a.errorf(tok.Pos, "%s: expected ',', got %s", op, tok)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *Assembler) statement() error {
	tok, _ := a.next()

	// A symbol that does not annotate a definition describes the text right
	// after it, and later lines count from there.
	if a.pending != nil && tok.Type != TokenLabel && tok.Type != TokenFunction {
		a.origin = &originBase{
			sym:  *a.pending,
			line: a.pendingTok.Pos.Line,
			col:  a.pendingTok.Pos.Col + utf8.RuneCountInString(a.pendingTok.Literal) + 3,
		}
		a.pending = nil
	}

	switch tok.Type {
	case TokenDebugSymbol:
		sym, err := ParseDebugSymbol(tok.Literal)
		if err != nil {
			return a.errorf(tok.Pos, "%v", err)
		}
		a.pending = &sym
		a.pendingTok = tok
		return nil

	case TokenLabel:
		return a.define(tok, a.prog.Labels, vm.OpLbl, "label")

	case TokenFunction:
		return a.define(tok, a.prog.Funcs, vm.OpFun, "function")

	case TokenIdentifier:
		op, ok := vm.LookupOpcode(tok.Literal)
		if !ok {
			return a.errorf(tok.Pos, "unknown instruction %q", tok.Literal)
		}
		params, err := a.operands(op, tok.Pos)
		if err != nil {
			return err
		}
		a.emit(op, params, tok.Pos)
		return nil
	}

	return a.errorf(tok.Pos, "unexpected %s, want an instruction, label or function", tok)
}

// define records a label or function at the current address and emits its
// marker instruction.
func (a *Assembler) define(tok Token, table map[string]int, marker vm.Opcode, kind string) error {
	colon, ok := a.next()
	if !ok || !colon.IsPunct(":") {
		at := tok.Pos
		if ok {
			at = colon.Pos
		}
		return a.errorf(at, "expected ':' after %s %s", kind, tok.Literal)
	}
	if _, dup := table[tok.Literal]; dup {
		return a.errorf(tok.Pos, "duplicate %s %s", kind, tok.Literal)
	}
	table[tok.Literal] = len(a.prog.Instructions)

	a.origin = nil
	if a.pending != nil {
		a.origin = &originBase{sym: *a.pending, line: tok.Pos.Line, col: tok.Pos.Col}
		a.pending = nil
	}
	a.emit(marker, []vm.Value{vm.Str(tok.Literal)}, tok.Pos)
	return nil
}

func (a *Assembler) emit(op vm.Opcode, params []vm.Value, pos vm.Position) {
	in := vm.Instruction{Op: op, Params: params, Pos: pos}
	if a.origin != nil {
		o := a.origin.sym
		o.Line += pos.Line - a.origin.line
		if pos.Line == a.origin.line {
			o.Col += pos.Col - a.origin.col
		} else {
			o.Col = pos.Col
		}
		in.Origin = &o
	}
	a.prog.Instructions = append(a.prog.Instructions, in)
}

// operands consumes the fixed operand shape of op.
func (a *Assembler) operands(op vm.Opcode, at vm.Position) ([]vm.Value, error) {
	switch op {
	case vm.OpPsh:
		return a.pushOperands(at)

	case vm.OpPop:
		tok, err := a.operand(op, at, TokenVariable, TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenIdentifier {
			if tok.Literal != vm.DiscardName {
				return nil, a.errorf(tok.Pos, "pop: unexpected %s, want %s", tok, op.Info().Operands)
			}
			return []vm.Value{vm.VariableRef(vm.DiscardName)}, nil
		}
		a.vars[tok.Literal] = true
		return []vm.Value{vm.VariableRef(tok.Literal)}, nil

	case vm.OpJmp, vm.OpJnz, vm.OpJzr:
		tok, err := a.operand(op, at, TokenLabel)
		if err != nil {
			return nil, err
		}
		a.refs = append(a.refs, targetRef{name: tok.Literal, pos: tok.Pos})
		return []vm.Value{vm.Str(tok.Literal)}, nil

	case vm.OpRun:
		tok, err := a.operand(op, at, TokenFunction)
		if err != nil {
			return nil, err
		}
		a.refs = append(a.refs, targetRef{name: tok.Literal, fn: true, pos: tok.Pos})
		return []vm.Value{vm.Str(tok.Literal)}, nil

	case vm.OpTyp:
		tok, err := a.operand(op, at, TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if !vm.IsCastTarget(tok.Literal) {
			return nil, a.errorf(tok.Pos, "typ: unknown type %q, want %s", tok.Literal, op.Info().Operands)
		}
		return []vm.Value{vm.Str(tok.Literal)}, nil

	case vm.OpAlc:
		name, err := a.operand(op, at, TokenBuffer)
		if err != nil {
			return nil, err
		}
		if err := a.comma(op, name.Pos); err != nil {
			return nil, err
		}
		size, err := a.operand(op, name.Pos, TokenInteger)
		if err != nil {
			return nil, err
		}
		if size.Int < 0 {
			return nil, a.errorf(size.Pos, "alc: buffer size must be non-negative, got %d", size.Int)
		}
		a.buffers[name.Literal] = true
		return []vm.Value{vm.BufferRef(name.Literal), vm.Int(size.Int)}, nil

	case vm.OpDlc:
		tok, err := a.operand(op, at, TokenBuffer, TokenVariable)
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenBuffer {
			if !a.buffers[tok.Literal] {
				return nil, a.errorf(tok.Pos, "buffer not found: %s", tok.Literal)
			}
			delete(a.buffers, tok.Literal)
			return []vm.Value{vm.BufferRef(tok.Literal)}, nil
		}
		if !a.vars[tok.Literal] {
			return nil, a.errorf(tok.Pos, "variable not found: %s", tok.Literal)
		}
		delete(a.vars, tok.Literal)
		return []vm.Value{vm.VariableRef(tok.Literal)}, nil
	}

	return nil, nil
}

// pushOperands parses "value[, value]*".
func (a *Assembler) pushOperands(at vm.Position) ([]vm.Value, error) {
	var params []vm.Value
	for {
		tok, ok := a.next()
		if !ok {
			return nil, a.errorf(at, "psh: missing operand")
		}
		v, err := a.literal(tok)
		if err != nil {
			return nil, err
		}
		params = append(params, v)

		if next, ok := a.peek(); !ok || !next.IsPunct(",") {
			return params, nil
		}
		at = tok.Pos
		a.pos++
	}
}

func (a *Assembler) literal(tok Token) (vm.Value, error) {
	switch tok.Type {
	case TokenInteger:
		return vm.Int(tok.Int), nil
	case TokenFloat:
		return vm.Float(tok.Float), nil
	case TokenString:
		return vm.Str(tok.Literal), nil
	case TokenIdentifier:
		switch tok.Literal {
		case "true":
			return vm.Bool(true), nil
		case "false":
			return vm.Bool(false), nil
		}
	case TokenBuffer:
		if !a.buffers[tok.Literal] {
			return vm.Value{}, a.errorf(tok.Pos, "buffer not found: %s", tok.Literal)
		}
		return vm.BufferRef(tok.Literal), nil
	case TokenVariable:
		if !a.vars[tok.Literal] {
			return vm.Value{}, a.errorf(tok.Pos, "variable not found: %s", tok.Literal)
		}
		return vm.VariableRef(tok.Literal), nil
	}
	return vm.Value{}, a.errorf(tok.Pos, "psh: unexpected %s, want a value", tok)
}
