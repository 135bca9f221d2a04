package server

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/sasm/vm"
)

// The execution service exchanges google.protobuf.Struct messages, so it
// needs no generated code. The types below are their Go-side shapes.

// RunRequest asks the service to assemble and run (or only check) a program.
type RunRequest struct {
	Source string
	Entry  string // optional, defaults to @entry
}

// StackValue is one operand stack entry as shown to clients.
type StackValue struct {
	Kind  string
	Value string
}

// ErrorInfo describes a lex, assembly or runtime failure.
type ErrorInfo struct {
	Kind    string
	Message string
	Line    int
	Col     int
	Origin  string // path:line:col, when known
}

func (e *ErrorInfo) Error() string {
	s := e.Kind
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Line > 0 {
		s += fmt.Sprintf(" at %d:%d", e.Line, e.Col)
	}
	if e.Origin != "" {
		s += " (from " + e.Origin + ")"
	}
	return s
}

// RunReply is the outcome of a remote run.
type RunReply struct {
	RunID    string
	ExitCode int
	Steps    int64
	Stack    []StackValue
	Error    *ErrorInfo
}

// CheckReply lists the problems found in a program, if any.
type CheckReply struct {
	Valid       bool
	Diagnostics []ErrorInfo
}

func errorInfo(err error) *ErrorInfo {
	var e *vm.Error
	if !errors.As(err, &e) {
		return &ErrorInfo{Kind: "error", Message: err.Error()}
	}
	info := &ErrorInfo{Kind: e.Kind.Error(), Message: e.Msg, Line: e.Pos.Line, Col: e.Pos.Col}
	if e.Origin != nil {
		info.Origin = e.Origin.String()
	}
	return info
}

func stackValues(stack []vm.Value) []StackValue {
	out := make([]StackValue, len(stack))
	for i, v := range stack {
		out[i] = StackValue{Kind: v.Kind().String(), Value: v.String()}
	}
	return out
}

// --- Struct encoding ---

func (r *RunRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"source": r.Source,
		"entry":  r.Entry,
	})
}

func parseRunRequest(s *structpb.Struct) (*RunRequest, error) {
	fields := s.GetFields()
	req := &RunRequest{
		Source: fields["source"].GetStringValue(),
		Entry:  fields["entry"].GetStringValue(),
	}
	if req.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	return req, nil
}

func (e *ErrorInfo) toMap() map[string]any {
	m := map[string]any{
		"kind":    e.Kind,
		"message": e.Message,
		"line":    e.Line,
		"col":     e.Col,
	}
	if e.Origin != "" {
		m["origin"] = e.Origin
	}
	return m
}

func errorInfoFromValue(v *structpb.Value) *ErrorInfo {
	f := v.GetStructValue().GetFields()
	if f == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:    f["kind"].GetStringValue(),
		Message: f["message"].GetStringValue(),
		Line:    int(f["line"].GetNumberValue()),
		Col:     int(f["col"].GetNumberValue()),
		Origin:  f["origin"].GetStringValue(),
	}
}

func (r *RunReply) toStruct() (*structpb.Struct, error) {
	stack := make([]any, len(r.Stack))
	for i, v := range r.Stack {
		stack[i] = map[string]any{"kind": v.Kind, "value": v.Value}
	}
	m := map[string]any{
		"run_id":    r.RunID,
		"exit_code": r.ExitCode,
		"steps":     r.Steps,
		"stack":     stack,
	}
	if r.Error != nil {
		m["error"] = r.Error.toMap()
	}
	return structpb.NewStruct(m)
}

func parseRunReply(s *structpb.Struct) *RunReply {
	f := s.GetFields()
	reply := &RunReply{
		RunID:    f["run_id"].GetStringValue(),
		ExitCode: int(f["exit_code"].GetNumberValue()),
		Steps:    int64(f["steps"].GetNumberValue()),
	}
	for _, v := range f["stack"].GetListValue().GetValues() {
		sf := v.GetStructValue().GetFields()
		reply.Stack = append(reply.Stack, StackValue{
			Kind:  sf["kind"].GetStringValue(),
			Value: sf["value"].GetStringValue(),
		})
	}
	if e, ok := f["error"]; ok {
		reply.Error = errorInfoFromValue(e)
	}
	return reply
}

func (r *CheckReply) toStruct() (*structpb.Struct, error) {
	diags := make([]any, len(r.Diagnostics))
	for i := range r.Diagnostics {
		diags[i] = r.Diagnostics[i].toMap()
	}
	return structpb.NewStruct(map[string]any{
		"valid":       r.Valid,
		"diagnostics": diags,
	})
}

func parseCheckReply(s *structpb.Struct) *CheckReply {
	f := s.GetFields()
	reply := &CheckReply{Valid: f["valid"].GetBoolValue()}
	for _, v := range f["diagnostics"].GetListValue().GetValues() {
		if info := errorInfoFromValue(v); info != nil {
			reply.Diagnostics = append(reply.Diagnostics, *info)
		}
	}
	return reply
}
