// sasm CLI - assemble and run sasm programs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/sasm/compiler"
	"github.com/chazu/sasm/journal"
	"github.com/chazu/sasm/manifest"
	"github.com/chazu/sasm/server"
)

var log = commonlog.GetLogger("sasm.cli")

func main() {
	os.Exit(sasmMain())
}

// sasmMain runs the CLI and returns the process exit code. Deferred cleanup
// (the journal, the signal handler) runs before the process exits.
func sasmMain() int {
	source := flag.String("e", "", "Assemble and run the given source text instead of a file")
	entry := flag.String("entry", "", "Entry function (default @entry, or source.function from sasm.toml)")
	verbose := flag.Bool("v", false, "Verbose output")
	dump := flag.Bool("dump", false, "Print the disassembled program instead of running it")
	check := flag.Bool("check", false, "Lex and assemble only")
	showStack := flag.Bool("stack", false, "Print the final operand stack")
	serveMode := flag.Bool("serve", false, "Start the execution server (gRPC + Connect HTTP/JSON)")
	servePort := flag.Int("port", 0, "Execution server port (used with -serve, default 8080)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	remote := flag.String("remote", "", "Run on the execution server at host:port")
	journalDSN := flag.String("journal", "", "Record runs in this journal database")
	history := flag.Int("history", 0, "List the N most recent journaled runs")
	maxSteps := flag.Int64("max-steps", 0, "Stop after this many instructions (0 = unlimited)")
	noSyscalls := flag.Bool("no-syscalls", false, "Refuse every sys instruction")
	profile := flag.Bool("profile", false, "Print instruction and call counts to stderr after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sasm [options] [file.sasm | dir]\n\n")
		fmt.Fprintf(os.Stderr, "Assembles and runs a sasm program. Without a path, the program named by\n")
		fmt.Fprintf(os.Stderr, "sasm.toml is used, or main.sasm in the current directory.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sasm hello.sasm                      # Run a file\n")
		fmt.Fprintf(os.Stderr, "  sasm -e '@entry: psh 5 ret'          # Run source text, exits 5\n")
		fmt.Fprintf(os.Stderr, "  sasm ./src                           # Bundle and run every .sasm file in src/\n")
		fmt.Fprintf(os.Stderr, "  sasm -dump hello.sasm                # Disassemble\n")
		fmt.Fprintf(os.Stderr, "  sasm -journal runs.db -history 10    # Show recent runs\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  sasm -serve -port 9000               # Execution server on :9000\n")
		fmt.Fprintf(os.Stderr, "  sasm -remote localhost:9000 a.sasm   # Run on a server\n")
		fmt.Fprintf(os.Stderr, "  sasm -lsp                            # Language server for editors\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return fail("Error loading manifest: %v", err)
	}
	cfg := newConfig(m)
	if *entry != "" {
		cfg.entry = *entry
	}
	if *journalDSN != "" {
		cfg.journalDSN = *journalDSN
	}
	if *maxSteps > 0 {
		cfg.maxSteps = *maxSteps
	}
	if *noSyscalls {
		cfg.syscalls = manifest.SyscallsDeny
	}
	if *servePort > 0 {
		cfg.port = *servePort
	}
	cfg.profile = *profile

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			return fail("LSP error: %v", err)
		}
		return 0
	}

	var store *journal.Store
	if cfg.journalDSN != "" {
		store, err = journal.Open(cfg.journalDriver, cfg.journalDSN)
		if err != nil {
			return fail("Error opening journal: %v", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *history > 0 {
		if store == nil {
			return fail("Error: -history requires a journal (-journal or [journal] dsn in sasm.toml)")
		}
		if err := printHistory(ctx, os.Stdout, store, *history); err != nil {
			return fail("Error reading journal: %v", err)
		}
		return 0
	}

	if *serveMode {
		handler, err := cfg.syscallHandler()
		if err != nil {
			return fail("Error: %v", err)
		}
		opts := []server.ServerOption{
			server.WithWorkers(cfg.workers),
			server.WithSyscalls(handler),
			server.WithMaxSteps(cfg.maxSteps),
		}
		if store != nil {
			opts = append(opts, server.WithJournal(store))
		}
		srv := server.New(opts...)
		defer srv.Stop()
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.port)); err != nil {
			return fail("Server error: %v", err)
		}
		return 0
	}

	var text string
	if *source != "" {
		text = *source
	} else {
		text, err = cfg.loadSource(flag.Args())
		if err != nil {
			return fail("Error: %v", err)
		}
	}

	if *remote != "" {
		return runRemote(ctx, *remote, text, cfg.entry, *showStack)
	}

	prog, err := compiler.Compile(text, compiler.WithEntry(cfg.entry))
	if err != nil {
		return fail("%s", formatError(err))
	}
	if *check {
		if *verbose {
			fmt.Printf("ok: %d instructions, %d labels, %d functions\n",
				len(prog.Instructions), len(prog.Labels), len(prog.Funcs))
		}
		return 0
	}
	if *dump {
		fmt.Print(prog.Disassemble())
		return 0
	}

	code, err := cfg.run(ctx, prog, text, store, *showStack)
	if err != nil {
		return fail("%s", formatError(err))
	}
	return code
}

// runRemote executes text on a sasm server and returns the process exit code.
func runRemote(ctx context.Context, addr, text, entry string, showStack bool) int {
	client, err := server.Dial(addr)
	if err != nil {
		return fail("Error: %v", err)
	}
	defer client.Close()

	reply, err := client.Run(ctx, &server.RunRequest{Source: text, Entry: entry})
	if err != nil {
		return fail("Error: %v", err)
	}
	if reply.RunID != "" {
		log.Infof("remote run %s", reply.RunID)
	}
	if reply.Error != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", reply.Error)
		return 1
	}
	if showStack {
		for _, v := range reply.Stack {
			fmt.Println(v.Value)
		}
	}
	return reply.ExitCode
}

// formatError renders a failure as "error: <message> at line:col (from origin)".
func formatError(err error) string {
	return "error: " + strings.TrimSpace(err.Error())
}

// fail prints a message to stderr and returns the failure exit code.
func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}
