// Package dispatch runs the hooks bound to an event and reduces their
// results to a single allow or block decision.
//
// Rules are consulted in registry order. The hooks of every matching rule run
// in declaration order, each receiving the payload produced by the previous
// one on its standard input. The first synchronous hook that exits nonzero
// (or times out) ends the dispatch with a block; if every hook passes, the
// final payload is allowed through.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/registry"
	"github.com/jingkaihe/hookgate/pkg/resolver"
	"github.com/jingkaihe/hookgate/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RuleSource supplies the ordered rules bound to an event type
type RuleSource interface {
	Rules(event hooks.EventType) []*registry.Rule
}

// ChainIntegrityError reports a hook that exited 0 but wrote something other
// than a JSON object to stdout, breaking the payload chain. It is distinct
// from a policy block: the hook misbehaved rather than objected.
type ChainIntegrityError struct {
	Rule   string
	Hook   string
	Output []byte
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("hook %q of rule %s broke the payload chain: stdout is not a JSON object (%d bytes: %q)",
		e.Hook, e.Rule, len(e.Output), preview(e.Output))
}

func preview(b []byte) string {
	const limit = 80
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Record describes one completed dispatch
type Record struct {
	ID        string
	Event     hooks.EventType
	Tool      string
	SessionID string
	Outcome   hooks.Outcome
	Reason    string
	Rule      string
	Hook      string
	Integrity bool
	HooksRun  int
	Duration  time.Duration
	CreatedAt time.Time
}

// Recorder persists dispatch records
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Dispatcher evaluates events against a rule source. A Dispatcher may be
// used for many dispatches; it holds no per-dispatch state apart from the
// async hooks still in flight.
type Dispatcher struct {
	rules      RuleSource
	runner     Runner
	timeout    time.Duration
	recorder   Recorder
	projectDir string

	async sync.WaitGroup
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRunner sets the hook runner
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) {
		d.runner = r
	}
}

// WithTimeout sets the timeout for hooks that do not declare their own
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithRecorder sets where dispatch records are stored
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithProjectDir sets ${CLAUDE_PROJECT_DIR} for events without a cwd
func WithProjectDir(dir string) Option {
	return func(d *Dispatcher) {
		d.projectDir = dir
	}
}

// New creates a Dispatcher over rules
func New(rules RuleSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules:   rules,
		timeout: hooks.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runner == nil {
		d.runner = NewProcessRunner(resolver.New())
	}
	if d.projectDir == "" {
		d.projectDir, _ = os.Getwd()
	}
	return d
}

// Dispatch runs the hooks bound to evt and returns the decision. A non-nil
// error accompanies a decision only for chain-integrity failures, in which
// case it is a *ChainIntegrityError; otherwise an error means the dispatch
// itself could not be carried out.
func (d *Dispatcher) Dispatch(ctx context.Context, evt hooks.Event) (*hooks.Decision, error) {
	id := uuid.NewString()
	log := logger.G(ctx).WithFields(logrus.Fields{
		"dispatch_id": id,
		"event":       evt.Type,
		"tool":        evt.Tool,
	})
	ctx = logger.WithLogger(ctx, log)

	ctx, span := telemetry.StartSpan(ctx, "hookgate.dispatch",
		attribute.String("dispatch.id", id),
		attribute.String("event", string(evt.Type)),
		attribute.String("tool", evt.Tool),
	)

	start := time.Now()
	decision, hooksRun, err := d.dispatch(ctx, evt)
	duration := time.Since(start)

	if decision != nil {
		span.SetAttributes(
			attribute.String("decision", string(decision.Outcome)),
			attribute.Int("hooks.run", hooksRun),
		)
		log.WithField("decision", decision.Outcome).WithField("duration", duration).Debug("dispatch finished")
		d.record(ctx, Record{
			ID:        id,
			Event:     evt.Type,
			Tool:      evt.Tool,
			SessionID: evt.SessionID,
			Outcome:   decision.Outcome,
			Reason:    decision.Reason,
			Rule:      decision.Rule,
			Hook:      decision.Hook,
			Integrity: decision.Integrity,
			HooksRun:  hooksRun,
			Duration:  duration,
			CreatedAt: start.UTC(),
		})
	}
	telemetry.EndSpan(span, err)

	return decision, err
}

func (d *Dispatcher) record(ctx context.Context, rec Record) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record dispatch decision")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt hooks.Event) (*hooks.Decision, int, error) {
	log := logger.G(ctx)

	payload, err := evt.Payload()
	if err != nil {
		return nil, 0, err
	}

	blocking := evt.Type.Gates()
	hooksRun := 0

	for _, rule := range d.rules.Rules(evt.Type) {
		if !rule.Matches(evt) {
			log.WithField("rule", rule.Name()).Debug("rule does not match")
			continue
		}
		log.WithField("rule", rule.Name()).Debug("rule matched")
		telemetry.AddEvent(ctx, "rule.matched",
			attribute.String("rule", rule.Name()),
			attribute.Int("hooks", len(rule.Hooks)),
		)

		for _, hook := range rule.Hooks {
			inv := d.invocation(evt, rule, hook, payload)
			hookLog := log.WithField("rule", rule.Name()).WithField("hook", hook.Command)

			if hook.Async {
				d.runAsync(ctx, rule, inv)
				continue
			}

			hooksRun++
			res, err := d.runHook(ctx, rule, inv)

			var timeoutErr *TimeoutError
			switch {
			case err == nil && res.Succeeded():
				next, ok := forwardPayload(res.Stdout)
				if !ok {
					integrityErr := &ChainIntegrityError{Rule: rule.Name(), Hook: hook.Command, Output: res.Stdout}
					if blocking {
						decision := blockDecision(rule, hook, integrityErr.Error())
						decision.Integrity = true
						return decision, hooksRun, integrityErr
					}
					hookLog.WithError(integrityErr).Warn("observational hook broke the payload chain, keeping the previous payload")
					continue
				}
				if next != nil {
					payload = next
				}

			case err == nil:
				hookLog.WithField("exit_code", res.ExitCode).Info("hook blocked the operation")
				fallback := fmt.Sprintf("blocked by hook %q of rule %s (exit status %d)", hook.Command, rule.Name(), res.ExitCode)
				return blockDecision(rule, hook, reason(res.Stderr, fallback)), hooksRun, nil

			case errors.Is(err, resolver.ErrNotFound):
				hookLog.WithError(err).Error("hook interpreter not found, skipping hook; its checks are NOT being enforced")

			case errors.As(err, &timeoutErr):
				hookLog.WithError(err).Warn("hook timed out, blocking the operation")
				msg := timeoutErr.Error()
				if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
					msg = stderr + "\n" + msg
				}
				return blockDecision(rule, hook, msg), hooksRun, nil

			case ctx.Err() != nil:
				return nil, hooksRun, errors.Wrap(ctx.Err(), "dispatch canceled")

			default:
				if blocking {
					hookLog.WithError(err).Error("blocking hook failed to run, blocking the operation")
					return blockDecision(rule, hook, reason(res.Stderr, err.Error())), hooksRun, nil
				}
				hookLog.WithError(err).Warn("observational hook failed to run")
			}
		}
	}

	return hooks.Allow(payload), hooksRun, nil
}

func (d *Dispatcher) runHook(ctx context.Context, rule *registry.Rule, inv Invocation) (hooks.HookResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "hookgate.hook",
		attribute.String("rule", rule.Name()),
		attribute.String("hook.command", inv.Command),
	)
	res, err := d.runner.Run(ctx, inv)
	telemetry.SetAttributes(ctx, attribute.Int("hook.exit_code", res.ExitCode))
	telemetry.EndSpan(span, err)
	return res, err
}

// runAsync fires a hook without waiting for it. The hook is detached from
// the caller's cancellation and bounded only by its own timeout; its result
// is logged and otherwise discarded. Runners that implement Starter launch
// the process before runAsync returns, so the hook keeps running even when
// this process exits right after the decision.
func (d *Dispatcher) runAsync(ctx context.Context, rule *registry.Rule, inv Invocation) {
	ctx = context.WithoutCancel(ctx)
	log := logger.G(ctx).WithField("rule", rule.Name()).WithField("hook", inv.Command)
	telemetry.AddEvent(ctx, "hook.async", attribute.String("hook.command", inv.Command))

	starter, ok := d.runner.(Starter)
	if !ok {
		d.async.Add(1)
		go func() {
			defer d.async.Done()
			res, err := d.runHook(ctx, rule, inv)
			if err != nil {
				log.WithError(err).Warn("async hook failed")
				return
			}
			log.WithField("exit_code", res.ExitCode).WithField("duration", res.Duration).Debug("async hook finished")
		}()
		return
	}

	wait, err := starter.Start(ctx, inv)
	if err != nil {
		log.WithError(err).Warn("async hook failed to start")
		return
	}
	d.async.Add(1)
	go func() {
		defer d.async.Done()
		if err := wait(); err != nil {
			log.WithError(err).Warn("async hook failed")
			return
		}
		log.Debug("async hook finished")
	}()
}

// Drain waits until every async hook started by the dispatcher has finished
// or ctx is done. Giving up only stops the waiting; the hooks keep running.
// Dispatch never waits for async hooks; Drain is for callers that want to.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.async.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stopped waiting for async hooks")
	}
}

// invocation builds the process invocation for one hook
func (d *Dispatcher) invocation(evt hooks.Event, rule *registry.Rule, hook hooks.HookCommand, payload []byte) Invocation {
	projectDir := evt.CWD
	if projectDir == "" {
		projectDir = d.projectDir
	}

	vars := map[string]string{
		registry.VarProjectDir: projectDir,
		registry.VarHookEvent:  string(evt.Type),
		registry.VarToolName:   evt.Tool,
		registry.VarSessionID:  evt.SessionID,
	}
	if rule.PluginRoot != "" {
		vars[registry.VarPluginRoot] = rule.PluginRoot
		vars[registry.VarHookgatePluginRoot] = rule.PluginRoot
	}

	env := make([]string, 0, len(vars))
	for _, name := range registry.KnownVariables() {
		if v, ok := vars[name]; ok {
			env = append(env, name+"="+v)
		}
	}

	return Invocation{
		Command: registry.Expand(hook.Command, vars),
		Payload: payload,
		Env:     env,
		Dir:     projectDir,
		Timeout: hook.EffectiveTimeout(d.timeout),
	}
}

// forwardPayload interprets a successful hook's stdout. Empty output keeps
// the current payload (nil, true); a JSON object replaces it; anything else
// breaks the chain (nil, false).
func forwardPayload(stdout []byte) ([]byte, bool) {
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil, true
	}
	if out[0] != '{' {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, out); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func reason(stderr []byte, fallback string) string {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	return fallback
}

func blockDecision(rule *registry.Rule, hook hooks.HookCommand, msg string) *hooks.Decision {
	decision := hooks.Block(msg)
	decision.Rule = rule.Name()
	decision.Hook = hook.Command
	return decision
}
