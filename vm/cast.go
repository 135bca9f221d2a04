package vm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Cast targets accepted by the typ opcode.
const (
	CastInt   = "int"
	CastFloat = "float"
	CastStr   = "str"
	CastBool  = "bool"
)

// IsCastTarget reports whether name is a valid typ operand.
func IsCastTarget(name string) bool {
	switch name {
	case CastInt, CastFloat, CastStr, CastBool:
		return true
	}
	return false
}

// cast stringifies v and parses the text as the requested kind. Numeric and
// boolean parses ignore surrounding whitespace so that text read into a
// buffer by a syscall (a trailing newline, for instance) converts cleanly.
func (vm *VM) cast(v Value, target string) (Value, error) {
	text, err := vm.stringify(v)
	if err != nil {
		return Value{}, err
	}

	switch target {
	case CastStr:
		return Str(text), nil
	case CastInt:
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return Value{}, &Error{Kind: ErrInvalidCast, Msg: fmt.Sprintf("%q is not an int", text)}
		}
		return Int(int32(i)), nil
	case CastFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		if err != nil {
			return Value{}, &Error{Kind: ErrInvalidCast, Msg: fmt.Sprintf("%q is not a float", text)}
		}
		return Float(float32(f)), nil
	case CastBool:
		switch strings.TrimSpace(text) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, &Error{Kind: ErrInvalidCast, Msg: fmt.Sprintf("%q is not a bool", text)}
	}
	return Value{}, &Error{Kind: ErrInvalidCast, Msg: fmt.Sprintf("unknown cast target %q", target)}
}

// stringify renders a value as text. Buffers are decoded as UTF-8 after
// trimming trailing zero bytes.
func (vm *VM) stringify(v Value) (string, error) {
	switch v.Kind() {
	case KindInteger:
		return strconv.FormatInt(int64(v.AsInt()), 10), nil
	case KindFloat:
		return formatFloat(v.AsFloat()), nil
	case KindString:
		return v.AsString(), nil
	case KindBoolean:
		return strconv.FormatBool(v.AsBool()), nil
	case KindBuffer:
		buf, ok := vm.buffers.Lookup(v.Name())
		if !ok {
			return "", &Error{Kind: ErrUnknownBuffer, Msg: v.Name()}
		}
		data := bytes.TrimRight(buf.data, "\x00")
		if !utf8.Valid(data) {
			return "", &Error{Kind: ErrInvalidCast, Msg: fmt.Sprintf("buffer %s is not valid UTF-8", v.Name())}
		}
		return string(data), nil
	}
	return "", &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("typ: unsupported operand %s", v.Kind())}
}
