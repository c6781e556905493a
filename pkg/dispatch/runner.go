package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/osutil"
	"github.com/jingkaihe/hookgate/pkg/resolver"
	"github.com/pkg/errors"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// Invocation is one hook run: a fully expanded command line and the payload
// written to its standard input.
type Invocation struct {
	Command string
	Payload []byte
	// Env holds KEY=VALUE pairs added to the inherited environment
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Runner runs hook processes. Run returns a HookResult with the process exit
// code for every process that exited on its own, including nonzero exits.
// Errors are reserved for runs that produced no exit code: a missing
// interpreter (errors.Is resolver.ErrNotFound), a *TimeoutError, or an
// *ExecError.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (hooks.HookResult, error)
}

// Starter is implemented by runners that can launch a hook without holding
// on to its output. Start returns once the process is running; wait reaps it
// and must not be needed for the caller to make progress.
type Starter interface {
	Start(ctx context.Context, inv Invocation) (wait func() error, err error)
}

// TimeoutError reports a hook that exceeded its timeout
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hook %q timed out after %s", e.Command, e.Timeout)
}

// ExecError reports a hook that could not be started or was killed by a
// signal
type ExecError struct {
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("failed to run hook %q: %v", e.Command, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ProcessRunner runs hooks as subprocesses. Simple commands are split in
// process and their program is located with the resolver; anything that
// needs a shell (pipelines, redirections, globs, substitutions) runs under
// sh -c.
type ProcessRunner struct {
	resolver *resolver.Resolver
	shell    string
}

// NewProcessRunner creates a ProcessRunner that resolves interpreters with r
func NewProcessRunner(r *resolver.Resolver) *ProcessRunner {
	return &ProcessRunner{resolver: r, shell: "sh"}
}

// Run implements Runner
func (p *ProcessRunner) Run(ctx context.Context, inv Invocation) (hooks.HookResult, error) {
	env := append(os.Environ(), inv.Env...)

	argv, err := p.argv(ctx, inv, env)
	if err != nil {
		return hooks.HookResult{}, err
	}

	timeout := effectiveTimeout(inv)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)
	// background children may hold stdout open after the hook exits
	cmd.WaitDelay = osutil.GracefulShutdownDelay + time.Second
	cmd.Dir = inv.Dir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(inv.Payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := hooks.HookResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if runErr == nil {
		return res, nil
	}

	res.ExitCode = -1
	if ctx.Err() != nil {
		return res, errors.Wrap(ctx.Err(), "hook canceled")
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &TimeoutError{Command: inv.Command, Timeout: timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			res.ExitCode = code
			return res, nil
		}
	}
	return res, &ExecError{Command: inv.Command, Err: runErr}
}

// Start implements Starter. The hook runs in its own process group with its
// output discarded and the payload on stdin read from an unlinked temporary
// file, so nothing in this process has to outlive Start for the hook to
// complete. Its timeout is enforced for as long as this process lives.
func (p *ProcessRunner) Start(ctx context.Context, inv Invocation) (func() error, error) {
	env := append(os.Environ(), inv.Env...)

	argv, err := p.argv(ctx, inv, env)
	if err != nil {
		return nil, err
	}

	stdin, err := payloadFile(inv.Payload)
	if err != nil {
		return nil, &ExecError{Command: inv.Command, Err: err}
	}
	defer stdin.Close()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectiveTimeout(inv))
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)
	cmd.Dir = inv.Dir
	cmd.Env = env
	cmd.Stdin = stdin

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &ExecError{Command: inv.Command, Err: err}
	}

	return func() error {
		defer cancel()
		if err := cmd.Wait(); err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Command: inv.Command, Timeout: effectiveTimeout(inv)}
			}
			return &ExecError{Command: inv.Command, Err: err}
		}
		return nil
	}, nil
}

// payloadFile returns a read handle on an unlinked file holding payload
func payloadFile(payload []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "hookgate-payload-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create payload file")
	}
	os.Remove(f.Name())

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write payload file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to rewind payload file")
	}
	return f, nil
}

func effectiveTimeout(inv Invocation) time.Duration {
	if inv.Timeout <= 0 {
		return hooks.DefaultTimeout
	}
	return inv.Timeout
}

// argv turns the command line into the program and arguments to execute.
// An interpreter that is absent comes back as a resolver.ErrNotFound error;
// one that is present but cannot be run is an *ExecError.
func (p *ProcessRunner) argv(ctx context.Context, inv Invocation, env []string) ([]string, error) {
	if isSimpleCommand(inv.Command) {
		fields, err := shell.Fields(inv.Command, envLookup(env))
		if err == nil && len(fields) > 0 && !shellBuiltins[fields[0]] {
			name := fields[0]
			if inv.Dir != "" && strings.ContainsAny(name, `/\`) && !filepath.IsAbs(name) &&
				resolver.WindowsToWSLPath(name) == name {
				name = filepath.Join(inv.Dir, name)
			}
			exe, err := p.resolve(ctx, inv, name)
			if err != nil {
				return nil, err
			}
			return append([]string{exe.Path}, p.resolver.RewriteArgs(ctx, fields[1:])...), nil
		}
	}

	sh, err := p.resolve(ctx, inv, p.shell)
	if err != nil {
		return nil, err
	}
	script := inv.Command
	if p.resolver.InWSL(ctx) {
		script = resolver.RewriteScript(script)
	}
	return []string{sh.Path, "-c", script}, nil
}

func (p *ProcessRunner) resolve(ctx context.Context, inv Invocation, name string) (resolver.Executable, error) {
	exe, err := p.resolver.Resolve(ctx, name)
	if err != nil && !errors.Is(err, resolver.ErrNotFound) {
		return exe, &ExecError{Command: inv.Command, Err: err}
	}
	return exe, err
}

// shellBuiltins are commands that only exist inside a shell
var shellBuiltins = map[string]bool{
	".": true, ":": true, "alias": true, "cd": true, "command": true, "eval": true,
	"exec": true, "exit": true, "export": true, "local": true, "read": true,
	"return": true, "set": true, "shift": true, "source": true, "trap": true,
	"type": true, "ulimit": true, "umask": true, "unset": true, "wait": true,
}

// isSimpleCommand reports whether cmdline is a single command whose words
// can be expanded without running a shell.
func isSimpleCommand(cmdline string) bool {
	if strings.ContainsAny(cmdline, "*?[") {
		return false
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(cmdline), "")
	if err != nil || len(file.Stmts) != 1 {
		return false
	}
	stmt := file.Stmts[0]
	if stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
		return false
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 || len(call.Args) == 0 {
		return false
	}

	simple := true
	syntax.Walk(file, func(node syntax.Node) bool {
		switch node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst, *syntax.ArithmExp, *syntax.ExtGlob:
			simple = false
		}
		return simple
	})
	return simple
}

// envLookup returns a lookup over KEY=VALUE pairs where later pairs win
func envLookup(env []string) func(string) string {
	values := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}
	return func(name string) string {
		return values[name]
	}
}
