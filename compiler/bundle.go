package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the file extension of sasm sources.
const SourceExt = ".sasm"

// SourceFile is one input to Bundle.
type SourceFile struct {
	Path string
	Text string
}

// Bundle joins several source files into one assembly unit. Every label and
// function definition is prefixed with a <path:line:col> debug symbol so that
// diagnostics for the bundled program point back at the original files. A file
// that does not open with a definition gets a <path:1:1> symbol on its first
// line, so its leading instructions are not attributed to the previous file.
func Bundle(files []SourceFile) (string, error) {
	var sb strings.Builder
	for _, f := range files {
		if strings.ContainsAny(f.Path, ">\n") {
			return "", fmt.Errorf("bundle: path %q cannot be used in a debug symbol", f.Path)
		}
		for i, line := range strings.Split(f.Text, "\n") {
			trimmed := strings.TrimLeft(line, " \t")
			switch {
			case isDefinitionLine(trimmed):
				col := len([]rune(line[:len(line)-len(trimmed)])) + 1
				fmt.Fprintf(&sb, "<%s:%d:%d> ", f.Path, i+1, col)
			case i == 0 && strings.TrimSpace(f.Text) != "":
				fmt.Fprintf(&sb, "<%s:1:1> ", f.Path)
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// isDefinitionLine reports whether a line starts with ".name:" or "@name:".
func isDefinitionLine(s string) bool {
	if len(s) < 3 || (s[0] != '.' && s[0] != '@') {
		return false
	}
	i := 1
	for i < len(s) && isIdentPart(rune(s[i])) {
		i++
	}
	if i == 1 || !isIdentStart(rune(s[1])) {
		return false
	}
	rest := strings.TrimLeft(s[i:], " \t")
	return strings.HasPrefix(rest, ":")
}

// ReadSources loads every *.sasm file directly inside the given directories,
// in directory order and then file name order.
func ReadSources(dirs ...string) ([]SourceFile, error) {
	var files []SourceFile
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+SourceExt))
		if err != nil {
			return nil, fmt.Errorf("cannot list %s: %w", dir, err)
		}
		sort.Strings(matches)
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", path, err)
			}
			files = append(files, SourceFile{Path: path, Text: string(data)})
		}
	}
	return files, nil
}
