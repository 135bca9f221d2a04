package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspTestSource = `@entry:
 psh 3
 pop $n
.loop:
 psh $n
 jzr .done
 run @step
 jmp .loop
.done:
 alc *buf, 8
 ret
@step:
 psh $n
 psh 1
 sub
 pop $n
 ret`

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix_SimpleWord(t *testing.T) {
	text := " psh"
	pos := protocol.Position{Line: 0, Character: 4}
	prefix := extractPrefix(text, pos)
	if prefix != "psh" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "psh")
	}
}

func TestExtractPrefix_KeepsSigil(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{" jmp .lo", ".lo"},
		{" run @st", "@st"},
		{" psh *bu", "*bu"},
		{" pop $n", "$n"},
		{" jmp .", "."},
	}
	for _, tt := range tests {
		pos := protocol.Position{Line: 0, Character: uint32(len(tt.text))}
		if got := extractPrefix(tt.text, pos); got != tt.want {
			t.Errorf("extractPrefix(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractPrefix_EmptyLine(t *testing.T) {
	text := ""
	pos := protocol.Position{Line: 0, Character: 0}
	prefix := extractPrefix(text, pos)
	if prefix != "" {
		t.Errorf("extractPrefix = %q, want empty string", prefix)
	}
}

func TestExtractPrefix_MultiLine(t *testing.T) {
	text := "@entry:\n psh 1\n ad"
	pos := protocol.Position{Line: 2, Character: 3}
	prefix := extractPrefix(text, pos)
	if prefix != "ad" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "ad")
	}
}

func TestExtractPrefix_CursorAtBeginning(t *testing.T) {
	text := "psh"
	pos := protocol.Position{Line: 0, Character: 0}
	prefix := extractPrefix(text, pos)
	if prefix != "" {
		t.Errorf("extractPrefix at position 0 = %q, want empty string", prefix)
	}
}

func TestExtractPrefix_LineBeyondDocument(t *testing.T) {
	text := "single line"
	pos := protocol.Position{Line: 5, Character: 0}
	prefix := extractPrefix(text, pos)
	if prefix != "" {
		t.Errorf("extractPrefix beyond document = %q, want empty string", prefix)
	}
}

func TestExtractWord_SimpleWord(t *testing.T) {
	text := " psh 3"
	pos := protocol.Position{Line: 0, Character: 2}
	word := extractWord(text, pos)
	if word != "psh" {
		t.Errorf("extractWord = %q, want %q", word, "psh")
	}
}

func TestExtractWord_Sigils(t *testing.T) {
	tests := []struct {
		text string
		col  uint32
		want string
	}{
		{" jmp .loop", 5, ".loop"}, // on the sigil
		{" jmp .loop", 7, ".loop"},
		{" run @step", 10, "@step"}, // at end of line
		{" alc *buf, 8", 6, "*buf"},
		{" pop $my_var", 8, "$my_var"},
		{".done:", 2, ".done"},
	}
	for _, tt := range tests {
		pos := protocol.Position{Line: 0, Character: tt.col}
		if got := extractWord(tt.text, pos); got != tt.want {
			t.Errorf("extractWord(%q, %d) = %q, want %q", tt.text, tt.col, got, tt.want)
		}
	}
}

func TestExtractWord_AtSpace(t *testing.T) {
	text := "a   b"
	pos := protocol.Position{Line: 0, Character: 2}
	word := extractWord(text, pos)
	if word != "" {
		t.Errorf("extractWord at space = %q, want empty string", word)
	}
}

func TestExtractWord_EmptyLine(t *testing.T) {
	pos := protocol.Position{Line: 0, Character: 0}
	if word := extractWord("", pos); word != "" {
		t.Errorf("extractWord on empty line = %q, want empty string", word)
	}
}

func TestExtractWord_LineBeyondDocument(t *testing.T) {
	pos := protocol.Position{Line: 3, Character: 0}
	if word := extractWord("ret", pos); word != "" {
		t.Errorf("extractWord beyond document = %q, want empty string", word)
	}
}

// ---------------------------------------------------------------------------
// boolPtr
// ---------------------------------------------------------------------------

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil {
		t.Fatal("boolPtr should not return nil")
	}
	if *p != true {
		t.Errorf("boolPtr(true) = %v, want true", *p)
	}

	p = boolPtr(false)
	if *p != false {
		t.Errorf("boolPtr(false) = %v, want false", *p)
	}
}

// ---------------------------------------------------------------------------
// Source analysis (complete, hover, definition, references, diagnostics)
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Label
	}
	return out
}

func TestLSP_CompleteOpcodes(t *testing.T) {
	items := complete(lspTestSource, "j")
	got := strings.Join(labels(items), ",")
	if got != "jmp,jnz,jzr" {
		t.Errorf("complete(j) = %s, want jmp,jnz,jzr", got)
	}
	for _, item := range items {
		if item.Kind == nil || *item.Kind != protocol.CompletionItemKindKeyword {
			t.Errorf("%s: Kind should be Keyword", item.Label)
		}
		if item.Detail == nil || *item.Detail == "" {
			t.Errorf("%s: Detail should carry the opcode doc", item.Label)
		}
	}
}

func TestLSP_CompleteCastTargets(t *testing.T) {
	got := strings.Join(labels(complete(lspTestSource, "fl")), ",")
	if got != "float" {
		t.Errorf("complete(fl) = %s, want float", got)
	}
}

func TestLSP_CompleteNames(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{".", ".done,.loop"},
		{".l", ".loop"},
		{"@", "@entry,@step"},
		{"*", "*buf"},
		{"$", "$n"},
		{"$n", ""},
	}
	for _, tt := range tests {
		got := strings.Join(labels(complete(lspTestSource, tt.prefix)), ",")
		if got != tt.want {
			t.Errorf("complete(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestLSP_HoverOpcode(t *testing.T) {
	h := hover(lspTestSource, "alc")
	if h == nil {
		t.Fatal("hover for 'alc' should return a result")
	}
	mc, ok := h.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatal("hover contents should be MarkupContent")
	}
	if mc.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("hover markup kind = %q, want %q", mc.Kind, protocol.MarkupKindMarkdown)
	}
	if !strings.Contains(mc.Value, "**alc**") || !strings.Contains(mc.Value, "`*buffer, size`") {
		t.Errorf("hover content = %q, want mnemonic and operand syntax", mc.Value)
	}
}

func TestLSP_HoverFunction(t *testing.T) {
	h := hover(lspTestSource, "@step")
	if h == nil {
		t.Fatal("hover for '@step' should return a result")
	}
	mc := h.Contents.(protocol.MarkupContent)
	if !strings.Contains(mc.Value, "function, defined at line 12") {
		t.Errorf("hover content = %q", mc.Value)
	}
}

func TestLSP_HoverUnknownWord(t *testing.T) {
	if h := hover(lspTestSource, "nop"); h != nil {
		t.Errorf("hover for unknown word = %v, want nil", h)
	}
	if h := hover(lspTestSource, "$n"); h != nil {
		t.Errorf("hover for a variable = %v, want nil", h)
	}
}

func TestLSP_Definition(t *testing.T) {
	uri := protocol.DocumentUri("file:///count.sasm")
	locs := definition(uri, lspTestSource, ".loop")
	if len(locs) != 1 {
		t.Fatalf("definition(.loop) returned %d locations, want 1", len(locs))
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 3, Character: 0},
		End:   protocol.Position{Line: 3, Character: 5},
	}
	if locs[0].URI != uri || locs[0].Range != want {
		t.Errorf("definition(.loop) = %+v, want %s %+v", locs[0], uri, want)
	}

	if locs := definition(uri, lspTestSource, ".nowhere"); len(locs) != 0 {
		t.Errorf("definition for unknown label returned %d locations", len(locs))
	}
}

func TestLSP_References(t *testing.T) {
	uri := protocol.DocumentUri("file:///count.sasm")

	withDecl := references(uri, lspTestSource, ".loop", true)
	if len(withDecl) != 2 {
		t.Errorf("references(.loop, decl) = %d, want 2", len(withDecl))
	}
	withoutDecl := references(uri, lspTestSource, ".loop", false)
	if len(withoutDecl) != 1 {
		t.Fatalf("references(.loop) = %d, want 1", len(withoutDecl))
	}
	if got := withoutDecl[0].Range.Start; got.Line != 7 || got.Character != 5 {
		t.Errorf("reference at %+v, want line 7 char 5", got)
	}

	if refs := references(uri, lspTestSource, "$n", false); len(refs) != 4 {
		t.Errorf("references($n) = %d, want 4", len(refs))
	}
	if refs := references(uri, lspTestSource, "$nothing", true); len(refs) != 0 {
		t.Errorf("references for unknown name = %d, want 0", len(refs))
	}
}

func TestLSP_DiagnoseValid(t *testing.T) {
	if diags := diagnose(lspTestSource); len(diags) != 0 {
		t.Errorf("diagnose(valid) = %+v, want none", diags)
	}
}

func TestLSP_DiagnoseError(t *testing.T) {
	diags := diagnose("@entry:\n jmp .nope")
	if len(diags) != 1 {
		t.Fatalf("diagnose returned %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Message != "assembly error: label .nope not found" {
		t.Errorf("Message = %q", d.Message)
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 5},
		End:   protocol.Position{Line: 1, Character: 10},
	}
	if d.Range != want {
		t.Errorf("Range = %+v, want %+v", d.Range, want)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("Severity should be Error")
	}
}

func TestLSP_DiagnoseLexError(t *testing.T) {
	diags := diagnose("@entry:\n psh \"open")
	if len(diags) != 1 {
		t.Fatalf("diagnose returned %d diagnostics, want 1", len(diags))
	}
	if !strings.HasPrefix(diags[0].Message, "lex error") {
		t.Errorf("Message = %q, want a lex error", diags[0].Message)
	}
	if diags[0].Range.Start.Line != 1 {
		t.Errorf("Start line = %d, want 1", diags[0].Range.Start.Line)
	}
}

func TestLSP_AnalyzeStopsAtLexError(t *testing.T) {
	syms := analyze("@entry:\n.a:\n psh ~\n.b:")
	if _, ok := syms.defs[".a"]; !ok {
		t.Error(".a should be found before the lex error")
	}
	if _, ok := syms.defs[".b"]; ok {
		t.Error(".b is past the lex error and should not be found")
	}
}

// ---------------------------------------------------------------------------
// LSP document synchronization state
// ---------------------------------------------------------------------------

func TestLSP_DocumentStore(t *testing.T) {
	lsp := &LspServer{docs: make(map[string]string)}

	// Simulate didOpen
	lsp.mu.Lock()
	lsp.docs["file:///test.sasm"] = lspTestSource
	lsp.mu.Unlock()

	text, ok := lsp.document("file:///test.sasm")
	if !ok {
		t.Error("document should be stored after open")
	}
	if text != lspTestSource {
		t.Errorf("document text = %q, want the opened source", text)
	}

	// Simulate didClose
	lsp.mu.Lock()
	delete(lsp.docs, "file:///test.sasm")
	lsp.mu.Unlock()

	if _, ok := lsp.document("file:///test.sasm"); ok {
		t.Error("document should be removed after close")
	}
}
