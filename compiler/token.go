package compiler

import (
	"fmt"

	"github.com/chazu/sasm/vm"
)

// ---------------------------------------------------------------------------
// Token types for the sasm lexer
// ---------------------------------------------------------------------------

// TokenType represents the kind of a token.
type TokenType int

const (
	TokenEOF TokenType = iota

	TokenIdentifier  // psh, int, true, _
	TokenLabel       // .loop
	TokenFunction    // @entry
	TokenBuffer      // *buf
	TokenVariable    // $x
	TokenInteger     // 42, -7
	TokenFloat       // 3.14
	TokenString      // "hi\n"
	TokenPunctuation // : ,
	TokenDebugSymbol // <path:line:col>
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenIdentifier:  "identifier",
	TokenLabel:       "label",
	TokenFunction:    "function",
	TokenBuffer:      "buffer",
	TokenVariable:    "variable",
	TokenInteger:     "integer",
	TokenFloat:       "float",
	TokenString:      "string",
	TokenPunctuation: "punctuation",
	TokenDebugSymbol: "debugsymbol",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token is one lexical unit.
//
// Literal holds the decoded text: names keep their sigil, strings have their
// escapes resolved, debug symbols hold the text between the angle brackets.
type Token struct {
	Type    TokenType
	Literal string
	Int     int32   // TokenInteger
	Float   float32 // TokenFloat
	Pos     vm.Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenInteger:
		return fmt.Sprintf("%s(%d)", t.Type, t.Int)
	case TokenFloat:
		return fmt.Sprintf("%s(%g)", t.Type, t.Float)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// IsPunct reports whether t is the given punctuation character.
func (t Token) IsPunct(ch string) bool {
	return t.Type == TokenPunctuation && t.Literal == ch
}

// sigils maps a name prefix to the token type it introduces.
var sigils = map[rune]TokenType{
	'.': TokenLabel,
	'@': TokenFunction,
	'*': TokenBuffer,
	'$': TokenVariable,
}
