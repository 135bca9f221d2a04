// Package manifest handles sasm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project manifest.
const FileName = "sasm.toml"

// Syscall modes for the [vm] section.
const (
	SyscallsNative = "native"
	SyscallsDeny   = "deny"
	SyscallsAllow  = "allow"
)

// Journal drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// Manifest represents a sasm.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project" json:"project"`
	Source  Source        `toml:"source" json:"source"`
	VM      VMConfig      `toml:"vm" json:"vm"`
	Journal JournalConfig `toml:"journal" json:"journal"`
	Server  ServerConfig  `toml:"server" json:"server"`

	// Dir is the directory containing the sasm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name" json:"name,omitempty"`
}

// Source configures source file locations.
type Source struct {
	// Dirs are bundled in order, each directory's *.sasm files sorted by name.
	Dirs []string `toml:"dirs" json:"dirs,omitempty"`
	// Entry is the single source file used when Dirs is empty.
	Entry string `toml:"entry" json:"entry,omitempty"`
	// Function is the entry function name, including the @ sigil.
	Function string `toml:"function" json:"function,omitempty"`
}

// VMConfig bounds execution.
type VMConfig struct {
	MaxSteps int64  `toml:"max-steps" json:"max-steps,omitempty"`
	Syscalls string `toml:"syscalls" json:"syscalls,omitempty"`
	Allow    []int  `toml:"allow" json:"allow,omitempty"`
}

// JournalConfig selects the run history store. An empty DSN disables it.
type JournalConfig struct {
	Driver string `toml:"driver" json:"driver,omitempty"`
	DSN    string `toml:"dsn" json:"dsn,omitempty"`
}

// ServerConfig configures `sasm -serve`.
type ServerConfig struct {
	Port    int `toml:"port" json:"port,omitempty"`
	Workers int `toml:"workers" json:"workers,omitempty"`
}

// Load parses and validates a sasm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text, applies defaults and validates the result.
// Unknown keys are rejected.
func Parse(text string) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(text, &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Source.Entry == "" && len(m.Source.Dirs) == 0 {
		m.Source.Entry = "main.sasm"
	}
	if m.Source.Function == "" {
		m.Source.Function = "@entry"
	}
	if m.VM.Syscalls == "" {
		m.VM.Syscalls = SyscallsNative
	}
	if m.Journal.Driver == "" {
		m.Journal.Driver = DriverSQLite
	}
	if m.Server.Port == 0 {
		m.Server.Port = 8080
	}
}

// FindAndLoad walks up from startDir to find a sasm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// EntryPath returns the absolute path of the single-file entry source, or ""
// when the project is bundled from directories.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	return m.resolve(m.Source.Entry)
}

// JournalDSN returns the journal data source with file paths made relative
// to the manifest directory. In-memory and URI DSNs are returned unchanged.
func (m *Manifest) JournalDSN() string {
	dsn := m.Journal.DSN
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, ":") {
		return dsn
	}
	return m.resolve(dsn)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
