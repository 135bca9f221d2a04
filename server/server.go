package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/sasm/journal"
	"github.com/chazu/sasm/vm"
)

var log = commonlog.GetLogger("sasm.server")

// SasmServer is the remote execution server. It serves both gRPC (binary
// protobuf over h2c) and Connect (HTTP/JSON) on the same port.
type SasmServer struct {
	pool *Pool
	exec *ExecService
	mux  *http.ServeMux
}

// ServerOption configures a SasmServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers  int
	journal  *journal.Store
	syscalls vm.SyscallHandler
	maxSteps int64
}

// WithWorkers sets the number of concurrent runs. Defaults to GOMAXPROCS.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithJournal records every run in j.
func WithJournal(j *journal.Store) ServerOption {
	return func(c *serverConfig) { c.journal = j }
}

// WithSyscalls sets the syscall handler given to every VM. Remote programs
// get vm.DenySyscalls unless this is set.
func WithSyscalls(h vm.SyscallHandler) ServerOption {
	return func(c *serverConfig) { c.syscalls = h }
}

// WithMaxSteps bounds every run.
func WithMaxSteps(n int64) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// New creates a SasmServer.
func New(opts ...ServerOption) *SasmServer {
	cfg := &serverConfig{syscalls: vm.DenySyscalls}
	for _, opt := range opts {
		opt(cfg)
	}

	vmOpts := []vm.Option{vm.WithSyscalls(cfg.syscalls)}
	if cfg.maxSteps > 0 {
		vmOpts = append(vmOpts, vm.WithMaxSteps(cfg.maxSteps))
	}

	pool := NewPool(cfg.workers)
	s := &SasmServer{
		pool: pool,
		exec: NewExecService(pool, cfg.journal, vmOpts...),
		mux:  http.NewServeMux(),
	}

	// Register Connect/gRPC service handlers
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.exec.Run))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, s.exec.Check))

	return s
}

// Handler returns the HTTP handler. Plaintext HTTP/2 is accepted so gRPC
// clients can connect without TLS.
func (s *SasmServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *SasmServer) ListenAndServe(addr string) error {
	log.Noticef("sasm server listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	log.Noticef("  gRPC (h2c):          grpc://%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Stop shuts down the worker pool.
func (s *SasmServer) Stop() {
	s.pool.Stop()
}
