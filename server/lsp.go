package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/sasm/compiler"
	"github.com/chazu/sasm/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "sasm-lsp"

var lspLog = commonlog.GetLogger("sasm.lsp")

// LspServer provides editor features for sasm source files.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("sasm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", "@", "*", "$"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := definition(uri, text, word)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	includeDecl := params.Context.IncludeDeclaration
	return references(uri, text, word, includeDecl), nil
}

// --- Source analysis ---

// symbols is what the editor features need to know about one document.
type symbols struct {
	tokens []compiler.Token
	defs   map[string]vm.Position // label/function definitions
	names  map[compiler.TokenType][]string
}

// analyze lexes as much of text as it can; a lex error ends the token stream
// early instead of discarding it.
func analyze(text string) *symbols {
	syms := &symbols{
		defs:  make(map[string]vm.Position),
		names: make(map[compiler.TokenType][]string),
	}
	l := compiler.NewLexer(text)
	seen := make(map[string]bool)
	for {
		tok, err := l.NextToken()
		if err != nil || tok.Type == compiler.TokenEOF {
			break
		}
		syms.tokens = append(syms.tokens, tok)
		switch tok.Type {
		case compiler.TokenLabel, compiler.TokenFunction, compiler.TokenBuffer, compiler.TokenVariable:
			if !seen[tok.Literal] {
				seen[tok.Literal] = true
				syms.names[tok.Type] = append(syms.names[tok.Type], tok.Literal)
			}
		case compiler.TokenPunctuation:
			n := len(syms.tokens)
			if tok.Literal == ":" && n >= 2 {
				prev := syms.tokens[n-2]
				if prev.Type == compiler.TokenLabel || prev.Type == compiler.TokenFunction {
					if _, dup := syms.defs[prev.Literal]; !dup {
						syms.defs[prev.Literal] = prev.Pos
					}
				}
			}
		}
	}
	for _, list := range syms.names {
		sort.Strings(list)
	}
	return syms
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	add := func(label, detail string, kind protocol.CompletionItemKind) {
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	sigilKinds := map[byte]struct {
		typ    compiler.TokenType
		detail string
		kind   protocol.CompletionItemKind
	}{
		'.': {compiler.TokenLabel, "label", protocol.CompletionItemKindReference},
		'@': {compiler.TokenFunction, "function", protocol.CompletionItemKindFunction},
		'*': {compiler.TokenBuffer, "buffer", protocol.CompletionItemKindVariable},
		'$': {compiler.TokenVariable, "variable", protocol.CompletionItemKindVariable},
	}

	if sk, ok := sigilKinds[prefix[0]]; ok {
		for _, name := range analyze(text).names[sk.typ] {
			if strings.HasPrefix(name, prefix) && name != prefix {
				add(name, sk.detail, sk.kind)
			}
		}
		return items
	}

	for _, name := range vm.Mnemonics() {
		if strings.HasPrefix(name, prefix) {
			op, _ := vm.LookupOpcode(name)
			add(name, op.Info().Doc, protocol.CompletionItemKindKeyword)
		}
	}
	for _, name := range []string{vm.CastInt, vm.CastFloat, vm.CastStr, vm.CastBool, "true", "false"} {
		if strings.HasPrefix(name, prefix) {
			add(name, "keyword", protocol.CompletionItemKindConstant)
		}
	}
	return items
}

func hover(text, word string) *protocol.Hover {
	var b strings.Builder

	if op, ok := vm.LookupOpcode(word); ok {
		info := op.Info()
		fmt.Fprintf(&b, "**%s**", info.Mnemonic)
		if info.Operands != "" {
			fmt.Fprintf(&b, " `%s`", info.Operands)
		}
		fmt.Fprintf(&b, "\n\n%s", info.Doc)
	} else if pos, ok := analyze(text).defs[word]; ok {
		kind := "label"
		if strings.HasPrefix(word, "@") {
			kind = "function"
		}
		fmt.Fprintf(&b, "**%s** %s, defined at line %d", word, kind, pos.Line)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	pos, ok := analyze(text).defs[word]
	if !ok {
		return nil
	}
	return []protocol.Location{{URI: uri, Range: tokenRange(pos, word)}}
}

func references(uri protocol.DocumentUri, text, word string, includeDecl bool) []protocol.Location {
	syms := analyze(text)
	def, isDef := syms.defs[word]

	var locations []protocol.Location
	for _, tok := range syms.tokens {
		if tok.Literal != word || tok.Type == compiler.TokenString || tok.Type == compiler.TokenDebugSymbol {
			continue
		}
		if isDef && tok.Pos == def && !includeDecl {
			continue
		}
		locations = append(locations, protocol.Location{URI: uri, Range: tokenRange(tok.Pos, tok.Literal)})
	}
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose assembles text and reports the first error at its position.
// Assembly errors without a position (a missing entry function) are shown
// at the top of the document.
func diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.Compile(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}
	lspLog.Debugf("diagnostic: %v", err)

	severity := protocol.DiagnosticSeverityError
	source := lspName
	msg := err.Error()
	var rng protocol.Range

	var e *vm.Error
	if errors.As(err, &e) {
		msg = e.Kind.Error()
		if e.Msg != "" {
			msg += ": " + e.Msg
		}
		if e.Pos.IsValid() {
			rng = tokenRange(e.Pos, wordAt(text, e.Pos))
		}
	}

	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

// tokenRange converts a 1-based source position to an LSP range covering word.
func tokenRange(pos vm.Position, word string) protocol.Range {
	start := protocol.Position{Line: uint32(pos.Line - 1), Character: uint32(pos.Col - 1)}
	end := start
	end.Character += uint32(len([]rune(word)))
	return protocol.Range{Start: start, End: end}
}

// wordAt returns the token-like run of characters starting at pos.
func wordAt(text string, pos vm.Position) string {
	lines := strings.Split(text, "\n")
	if pos.Line-1 >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line-1])
	start := pos.Col - 1
	if start < 0 || start >= len(line) {
		return ""
	}
	end := start
	for end < len(line) && !unicode.IsSpace(line[end]) && line[end] != ',' && line[end] != ':' {
		end++
	}
	if end == start {
		end++
	}
	return string(line[start:end])
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func isSigil(ch rune) bool {
	return ch == '.' || ch == '@' || ch == '*' || ch == '$'
}

// extractPrefix returns the word fragment before the cursor for completion,
// including a leading sigil.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the name
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start > 0 && isSigil(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full name under the cursor, including its sigil.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	if col < len(line) && isSigil(rune(line[col])) {
		col++
	}

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}
	if start > 0 && isSigil(rune(line[start-1])) {
		start--
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
