package server

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/sasm/compiler"
	"github.com/chazu/sasm/journal"
	"github.com/chazu/sasm/vm"
)

// Procedure names of the execution service.
const (
	ExecutionServiceName = "sasm.v1.ExecutionService"
	RunProcedure         = "/" + ExecutionServiceName + "/Run"
	CheckProcedure       = "/" + ExecutionServiceName + "/Check"
)

// ExecService implements the ExecutionService Connect/gRPC handlers.
type ExecService struct {
	pool    *Pool
	journal *journal.Store // may be nil
	vmOpts  []vm.Option
}

// NewExecService creates an ExecService. Every run gets a fresh VM built with
// vmOpts.
func NewExecService(pool *Pool, j *journal.Store, vmOpts ...vm.Option) *ExecService {
	return &ExecService{pool: pool, journal: j, vmOpts: vmOpts}
}

// Run assembles and executes a program. Lex, assembly and runtime failures
// are reported in the reply, not as RPC errors.
func (s *ExecService) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	in, err := parseRunRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.pool.Do(ctx, func() (any, error) {
		return s.execute(ctx, in), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, connect.NewError(contextCode(ctx.Err()), err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	reply := result.(*RunReply)

	if reply.Error != nil && ctx.Err() != nil {
		return nil, connect.NewError(contextCode(ctx.Err()), reply.Error)
	}

	msg, err := reply.toStruct()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Check lexes and assembles a program without running it.
func (s *ExecService) Check(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	in, err := parseRunRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	reply := &CheckReply{Valid: true}
	if _, err := compiler.Compile(in.Source, compiler.WithEntry(in.Entry)); err != nil {
		reply.Valid = false
		reply.Diagnostics = []ErrorInfo{*errorInfo(err)}
	}

	msg, err := reply.toStruct()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// execute runs on a pool worker.
func (s *ExecService) execute(ctx context.Context, in *RunRequest) *RunReply {
	started := time.Now()
	reply := &RunReply{}

	prog, err := compiler.Compile(in.Source, compiler.WithEntry(in.Entry))
	if err == nil {
		var res *vm.Result
		res, err = vm.Execute(ctx, prog, s.vmOpts...)
		if err == nil {
			reply.ExitCode = res.ExitCode
			reply.Steps = res.Steps
			reply.Stack = stackValues(res.Stack)
			reply.RunID = s.record(ctx, in, prog.EntryName(), res, nil, started)
		} else {
			reply.RunID = s.record(ctx, in, prog.EntryName(), nil, err, started)
		}
	}
	if err != nil {
		reply.Error = errorInfo(err)
		log.Debugf("run failed: %v", err)
	}
	return reply
}

// record writes the run to the journal, if one is configured, and returns
// its ID. Journal failures are logged and never fail the run.
func (s *ExecService) record(ctx context.Context, in *RunRequest, entry string, res *vm.Result, runErr error, started time.Time) string {
	if s.journal == nil {
		return ""
	}
	run := &journal.Run{
		SourceDigest: journal.Digest(in.Source),
		Entry:        entry,
		Started:      started,
		Duration:     time.Since(started),
	}
	if res != nil {
		run.ExitCode = res.ExitCode
		run.Stack = res.Stack
		run.Steps = res.Steps
	}
	if runErr != nil {
		run.Err = runErr.Error()
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Errorf("journal: %v", err)
		return ""
	}
	log.Infof("run %s exit=%d", run.ID, run.ExitCode)
	return run.ID
}

func contextCode(err error) connect.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.CodeDeadlineExceeded
	}
	return connect.CodeCanceled
}
