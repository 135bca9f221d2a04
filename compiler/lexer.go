package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/sasm/vm"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for sasm source
// ---------------------------------------------------------------------------

// Lexer tokenizes sasm source code.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at EOF
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based, in runes)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// Lex tokenizes the whole input. The EOF token is not included.
func Lex(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

// readChar advances to the next character, tracking line and column.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() vm.Position {
	return vm.Position{Line: l.line, Col: l.col}
}

func (l *Lexer) errorf(pos vm.Position, format string, args ...any) error {
	return vm.Errorf(vm.ErrLex, pos, format, args...)
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token, or an error for malformed input.
func (l *Lexer) NextToken() (Token, error) {
	for !l.atEOF() && isSpace(l.ch) {
		l.readChar()
	}

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}, nil
	}

	switch ch := l.ch; {
	case ch == ':' || ch == ',':
		l.readChar()
		return Token{Type: TokenPunctuation, Literal: string(ch), Pos: pos}, nil

	case ch == '"':
		return l.readString(pos)

	case ch == '<':
		return l.readDebugSymbol(pos)

	case isDigit(ch), ch == '-' && isDigit(l.peekChar()), ch == '.' && isDigit(l.peekChar()):
		return l.readNumber(pos)

	case isIdentStart(ch):
		return Token{Type: TokenIdentifier, Literal: l.readIdent(), Pos: pos}, nil

	default:
		if typ, ok := sigils[ch]; ok && isIdentStart(l.peekChar()) {
			l.readChar()
			return Token{Type: typ, Literal: string(ch) + l.readIdent(), Pos: pos}, nil
		}
		l.readChar()
		return Token{}, l.errorf(pos, "unexpected character: '%c'", ch)
	}
}

func (l *Lexer) readIdent() string {
	start := l.pos
	for !l.atEOF() && isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber(pos vm.Position) (Token, error) {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	isFloat := false
	for !l.atEOF() && (isDigit(l.ch) || l.ch == '.') {
		if l.ch == '.' {
			if isFloat {
				break
			}
			isFloat = true
		}
		l.readChar()
	}
	text := l.input[start:l.pos]

	if isFloat {
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Token{}, l.errorf(pos, "invalid float: '%s'", text)
		}
		return Token{Type: TokenFloat, Literal: text, Float: float32(f), Pos: pos}, nil
	}
	i, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return Token{}, l.errorf(pos, "invalid integer: '%s'", text)
	}
	return Token{Type: TokenInteger, Literal: text, Int: int32(i), Pos: pos}, nil
}

func (l *Lexer) readString(pos vm.Position) (Token, error) {
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		if l.atEOF() {
			return Token{}, l.errorf(pos, "unterminated string literal")
		}
		switch l.ch {
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}, nil
		case '\\':
			escPos := l.position()
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			default:
				if l.atEOF() {
					return Token{}, l.errorf(pos, "unterminated string literal")
				}
				return Token{}, l.errorf(escPos, "unknown escape sequence: '\\%c'", l.ch)
			}
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
}

func (l *Lexer) readDebugSymbol(pos vm.Position) (Token, error) {
	l.readChar() // '<'
	start := l.pos
	for !l.atEOF() && l.ch != '>' && l.ch != '\n' {
		l.readChar()
	}
	if l.ch != '>' {
		return Token{}, l.errorf(pos, "unterminated debug symbol")
	}
	text := l.input[start:l.pos]
	l.readChar() // '>'
	return Token{Type: TokenDebugSymbol, Literal: text, Pos: pos}, nil
}

// ParseDebugSymbol splits "path:line:col". The path may itself contain
// colons; line and column are taken from the right.
func ParseDebugSymbol(text string) (vm.DebugSymbol, error) {
	colSep := strings.LastIndexByte(text, ':')
	if colSep < 0 {
		return vm.DebugSymbol{}, fmt.Errorf("malformed debug symbol <%s>", text)
	}
	lineSep := strings.LastIndexByte(text[:colSep], ':')
	if lineSep <= 0 {
		return vm.DebugSymbol{}, fmt.Errorf("malformed debug symbol <%s>", text)
	}
	line, err1 := strconv.Atoi(text[lineSep+1 : colSep])
	col, err2 := strconv.Atoi(text[colSep+1:])
	if err1 != nil || err2 != nil || line < 1 || col < 1 {
		return vm.DebugSymbol{}, fmt.Errorf("malformed debug symbol <%s>", text)
	}
	return vm.DebugSymbol{Path: text[:lineSep], Line: line, Col: col}, nil
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch rune) bool {
	return isIdentStart(ch) || isDigit(ch)
}
