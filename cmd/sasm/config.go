package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chazu/sasm/compiler"
	"github.com/chazu/sasm/journal"
	"github.com/chazu/sasm/manifest"
	"github.com/chazu/sasm/vm"
)

// defaultSource is run when neither a path nor a manifest names a program.
const defaultSource = "main.sasm"

// config is the effective CLI configuration: sasm.toml values (if any)
// overridden by flags.
type config struct {
	entry      string
	sourceDirs []string
	entryPath  string

	maxSteps int64
	syscalls string
	allow    []int

	journalDriver string
	journalDSN    string

	port    int
	workers int

	profile bool
}

func newConfig(m *manifest.Manifest) *config {
	if m == nil {
		return &config{
			syscalls:      manifest.SyscallsNative,
			journalDriver: manifest.DriverSQLite,
			port:          8080,
		}
	}
	return &config{
		entry:         m.Source.Function,
		sourceDirs:    m.SourceDirPaths(),
		entryPath:     m.EntryPath(),
		maxSteps:      m.VM.MaxSteps,
		syscalls:      m.VM.Syscalls,
		allow:         m.VM.Allow,
		journalDriver: m.Journal.Driver,
		journalDSN:    m.JournalDSN(),
		port:          m.Server.Port,
		workers:       m.Server.Workers,
	}
}

// syscallHandler maps the syscalls mode to a handler.
func (c *config) syscallHandler() (vm.SyscallHandler, error) {
	switch c.syscalls {
	case "", manifest.SyscallsNative:
		return vm.NativeSyscalls, nil
	case manifest.SyscallsDeny:
		return vm.DenySyscalls, nil
	case manifest.SyscallsAllow:
		numbers := make([]uintptr, len(c.allow))
		for i, n := range c.allow {
			numbers[i] = uintptr(n)
		}
		return vm.AllowSyscalls(vm.NativeSyscalls, numbers...), nil
	}
	return nil, fmt.Errorf("unknown syscalls mode %q", c.syscalls)
}

// vmOptions builds the interpreter options for a local run.
func (c *config) vmOptions() ([]vm.Option, error) {
	handler, err := c.syscallHandler()
	if err != nil {
		return nil, err
	}
	opts := []vm.Option{vm.WithSyscalls(handler)}
	if c.maxSteps > 0 {
		opts = append(opts, vm.WithMaxSteps(c.maxSteps))
	}
	return opts, nil
}

// loadSource returns the program text. A single file argument is read as is;
// directories and multiple files are bundled so diagnostics keep their
// original positions. Without arguments the manifest decides, then
// main.sasm.
func (c *config) loadSource(args []string) (string, error) {
	if len(args) == 0 {
		if len(c.sourceDirs) > 0 {
			return bundleDirs(c.sourceDirs...)
		}
		path := c.entryPath
		if path == "" {
			path = defaultSource
		}
		return readSource(path)
	}

	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return readSource(args[0])
		}
	}

	var files []compiler.SourceFile
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			found, err := compiler.ReadSources(arg)
			if err != nil {
				return "", err
			}
			files = append(files, found...)
			continue
		}
		text, err := readSource(arg)
		if err != nil {
			return "", err
		}
		files = append(files, compiler.SourceFile{Path: arg, Text: text})
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no %s files in %v", compiler.SourceExt, args)
	}
	return compiler.Bundle(files)
}

func bundleDirs(dirs ...string) (string, error) {
	files, err := compiler.ReadSources(dirs...)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no %s files in %v", compiler.SourceExt, dirs)
	}
	return compiler.Bundle(files)
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return string(data), nil
}

// run executes prog and returns its exit code. When store is set the run is
// journaled, successful or not; journal failures are logged only.
func (c *config) run(ctx context.Context, prog *vm.Program, text string, store *journal.Store, showStack bool) (int, error) {
	opts, err := c.vmOptions()
	if err != nil {
		return 1, err
	}

	var prof *vm.Profiler
	if c.profile {
		prof = vm.NewProfiler()
		opts = append(opts, vm.WithProfiler(prof))
	}

	started := time.Now()
	res, runErr := vm.Execute(ctx, prog, opts...)
	if prof != nil {
		prof.WriteReport(os.Stderr)
	}

	if store != nil {
		rec := &journal.Run{
			SourceDigest: journal.Digest(text),
			Entry:        prog.EntryName(),
			Started:      started,
			Duration:     time.Since(started),
		}
		if runErr != nil {
			rec.Err = runErr.Error()
		} else {
			rec.ExitCode = res.ExitCode
			rec.Stack = res.Stack
			rec.Steps = res.Steps
		}
		if err := store.Record(context.WithoutCancel(ctx), rec); err != nil {
			log.Errorf("journal: %v", err)
		} else {
			log.Infof("recorded run %s", rec.ID)
		}
	}

	if runErr != nil {
		return 1, runErr
	}
	log.Debugf("halted after %d steps with exit code %d", res.Steps, res.ExitCode)
	if showStack {
		printStack(os.Stdout, res.Stack)
	}
	return res.ExitCode, nil
}

// printStack writes the stack bottom first, one value per line.
func printStack(w io.Writer, stack []vm.Value) {
	for _, v := range stack {
		fmt.Fprintln(w, v)
	}
}

// printHistory lists the n most recent journaled runs.
func printHistory(ctx context.Context, w io.Writer, store *journal.Store, n int) error {
	runs, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tENTRY\tEXIT\tSTEPS\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Started.Format(time.RFC3339), r.Entry, r.ExitCode, r.Steps,
			r.Duration.Round(time.Microsecond), r.Err)
	}
	return tw.Flush()
}
