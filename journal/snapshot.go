package journal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/sasm/vm"
)

// cborEncMode uses canonical encoding so equal stacks produce equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// valueRecord is the wire form of one stack value.
type valueRecord struct {
	Kind  vm.Kind `cbor:"k"`
	Int   int32   `cbor:"i,omitempty"`
	Float float32 `cbor:"f,omitempty"`
	Text  string  `cbor:"s,omitempty"`
}

// EncodeStack serializes an operand stack snapshot to CBOR bytes.
func EncodeStack(stack []vm.Value) ([]byte, error) {
	recs := make([]valueRecord, len(stack))
	for i, v := range stack {
		rec := valueRecord{Kind: v.Kind()}
		switch v.Kind() {
		case vm.KindInteger:
			rec.Int = v.AsInt()
		case vm.KindBoolean:
			if v.AsBool() {
				rec.Int = 1
			}
		case vm.KindFloat:
			rec.Float = v.AsFloat()
		case vm.KindString:
			rec.Text = v.AsString()
		case vm.KindBuffer, vm.KindVariable:
			rec.Text = v.Name()
		default:
			return nil, fmt.Errorf("journal: cannot encode %s value", v.Kind())
		}
		recs[i] = rec
	}
	return cborEncMode.Marshal(recs)
}

// DecodeStack deserializes a snapshot written by EncodeStack.
func DecodeStack(data []byte) ([]vm.Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var recs []valueRecord
	if err := cbor.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("journal: unmarshal stack: %w", err)
	}
	stack := make([]vm.Value, len(recs))
	for i, rec := range recs {
		switch rec.Kind {
		case vm.KindInteger:
			stack[i] = vm.Int(rec.Int)
		case vm.KindBoolean:
			stack[i] = vm.Bool(rec.Int != 0)
		case vm.KindFloat:
			stack[i] = vm.Float(rec.Float)
		case vm.KindString:
			stack[i] = vm.Str(rec.Text)
		case vm.KindBuffer:
			stack[i] = vm.BufferRef(rec.Text)
		case vm.KindVariable:
			stack[i] = vm.VariableRef(rec.Text)
		default:
			return nil, fmt.Errorf("journal: unknown value kind %d", rec.Kind)
		}
	}
	return stack, nil
}
