package rcon

import (
	"context"

	"github.com/pkg/errors"
)

// Policy decides how a batch treats commands that produce no output.
type Policy int

const (
	// FailFast treats an empty reply as a failure and stops the batch.
	FailFast Policy = iota
	// BestEffort records empty replies and carries on. Transport and
	// protocol errors still stop the batch.
	BestEffort
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case BestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

var ErrEmptyResponse = errors.New("rcon: command returned no output")

// Executor runs one command and returns its reply.
type Executor interface {
	Exec(ctx context.Context, cmd string) (string, error)
}

// Result is the reply to one command of a batch.
type Result struct {
	Command string
	Output  string
}

// Empty reports whether the server accepted the command without output.
func (r Result) Empty() bool {
	return r.Output == ""
}

// Run executes commands in order. The returned results line up with the
// commands that completed; on error they hold everything before the failing
// command.
func Run(ctx context.Context, exec Executor, commands []string, policy Policy) ([]Result, error) {
	results := make([]Result, 0, len(commands))
	for i, cmd := range commands {
		out, err := exec.Exec(ctx, cmd)
		if err != nil {
			return results, errors.Wrapf(err, "command %d %q", i, cmd)
		}
		if out == "" && policy == FailFast {
			return results, errors.Wrapf(ErrEmptyResponse, "command %d %q", i, cmd)
		}
		results = append(results, Result{Command: cmd, Output: out})
	}
	return results, nil
}
