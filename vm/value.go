package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: the universal runtime datum
// ---------------------------------------------------------------------------

// Kind is the tag of a Value.
type Kind uint8

const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindBoolean
	KindBuffer
	KindVariable
)

var kindNames = [...]string{
	KindInteger:  "Integer",
	KindFloat:    "Float",
	KindString:   "String",
	KindBoolean:  "Boolean",
	KindBuffer:   "Buffer",
	KindVariable: "Variable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a tagged union over the six runtime kinds.
//
// Values are plain Go values: copying one copies the datum, so the operand
// stack never aliases a scalar. Buffer and Variable values carry a name that
// is resolved against the VM tables when the value is used.
type Value struct {
	kind Kind
	i    int32
	f    float32
	s    string // string payload, or the buffer/variable name
}

// Int creates an Integer value.
func Int(i int32) Value { return Value{kind: KindInteger, i: i} }

// Float creates a Float value.
func Float(f float32) Value { return Value{kind: KindFloat, f: f} }

// Str creates a String value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Bool creates a Boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBoolean}
	if b {
		v.i = 1
	}
	return v
}

// BufferRef creates a reference to the named buffer (including its sigil).
func BufferRef(name string) Value { return Value{kind: KindBuffer, s: name} }

// VariableRef creates a reference to the named variable (including its sigil).
func VariableRef(name string) Value { return Value{kind: KindVariable, s: name} }

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the Integer payload. Only meaningful for KindInteger.
func (v Value) AsInt() int32 { return v.i }

// AsFloat returns the Float payload. Only meaningful for KindFloat.
func (v Value) AsFloat() float32 { return v.f }

// AsString returns the String payload. Only meaningful for KindString.
func (v Value) AsString() string { return v.s }

// AsBool returns the Boolean payload. Only meaningful for KindBoolean.
func (v Value) AsBool() bool { return v.i != 0 }

// Name returns the referenced name of a Buffer or Variable value. Jump and
// call operands are String values holding the target name.
func (v Value) Name() string { return v.s }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger, KindBoolean:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString, KindBuffer, KindVariable:
		return v.s == o.s
	}
	return false
}

// String renders the value the way the disassembler and diagnostics show it.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(int64(v.i), 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return strconv.Quote(v.s)
	case KindBoolean:
		return strconv.FormatBool(v.AsBool())
	case KindBuffer, KindVariable:
		return v.s
	}
	return fmt.Sprintf("<%s>", v.kind)
}

// GoString is used by %#v and in test failure output.
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%s)", v.kind, v.String())
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}
