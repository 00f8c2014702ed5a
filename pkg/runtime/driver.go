package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantheon-run/pantheon-core/pkg/bus"
	"github.com/pantheon-run/pantheon-core/pkg/coordinator"
	"github.com/pantheon-run/pantheon-core/pkg/gateway"
	"github.com/pantheon-run/pantheon-core/pkg/resilience"
)

// Steps is the fixed 9-step Pantheon pipeline order, unchanged from
// spec.md §4.8.
var Steps = []string{
	"observe", "reason", "act", "validate", "execute",
	"memory", "analyze", "learn", "improve",
}

// fallbackTokenEstimate is charged against the budget when a step's
// result carries no positive "usage_tokens" and its input has no
// "content" string to measure. The chosen token accounting policy (see
// DESIGN.md's resolution of the "tokens spent" open question) is:
// a character-length estimate of the outbound content, overridden by
// the provider's reported usage when present. This constant only
// covers the degenerate case where neither is available.
const fallbackTokenEstimate = 1

// Recorder is the telemetry sink the driver reports per-step latency
// and outcome against, under component name "pantheon.<step>".
type Recorder interface {
	Record(component string, latency time.Duration, success bool, errClass string)
}

// FailureRecord is the typed failure the driver emits when a step
// aborts the pipeline, per spec.md §7's "user-visible behaviour".
type FailureRecord struct {
	TaskID         string
	Step           string
	Kind           error
	BudgetStatus   coordinator.BudgetStatus
	BlackboardKeys int
	TelemetryNote  string
}

func (f *FailureRecord) Error() string {
	return fmt.Sprintf("pantheon pipeline aborted at step %q (task %s): %v", f.Step, f.TaskID, f.Kind)
}

// PantheonDriver runs the fixed 9-step pipeline across a set of
// registered capabilities, request-replying with the Bus at each step,
// debiting the Coordinator's budget for gateway usage, and writing each
// step's result to the blackboard under agent:{name}:result.
type PantheonDriver struct {
	busInst  *bus.Bus
	coord    *coordinator.Coordinator
	gw       *gateway.Gateway
	breakers *resilience.Breakers
	recorder Recorder
	log      *slog.Logger

	capabilities map[string]AgentCapability
	requestWait  time.Duration
	provider     string
}

// Option configures a PantheonDriver at construction time.
type Option func(*PantheonDriver)

// WithRequestTimeout overrides the per-step Bus.Request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(d0 *PantheonDriver) { d0.requestWait = d }
}

// WithProvider sets the gateway provider name a step's Context is
// populated with — the "default_provider" config key from spec.md §6,
// resolved once here rather than by every capability individually.
func WithProvider(name string) Option {
	return func(d0 *PantheonDriver) { d0.provider = name }
}

// New constructs a driver wired to the bus, coordinator, gateway, and
// breaker set it will drive every task through.
func New(b *bus.Bus, coord *coordinator.Coordinator, gw *gateway.Gateway, breakers *resilience.Breakers, recorder Recorder, opts ...Option) *PantheonDriver {
	d := &PantheonDriver{
		busInst:      b,
		coord:        coord,
		gw:           gw,
		breakers:     breakers,
		recorder:     recorder,
		log:          slog.Default().With("component", "pantheon_driver"),
		capabilities: make(map[string]AgentCapability),
		requestWait:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capabilities returns the names of every step currently registered, for
// readiness logging.
func (d *PantheonDriver) Capabilities() []string {
	names := make([]string, 0, len(d.capabilities))
	for name := range d.capabilities {
		names = append(names, name)
	}
	return names
}

// Register installs a capability for one of the 9 fixed step names.
// Registering under a name not in Steps is accepted, but Run only
// iterates Steps, so such a capability is never invoked by Run.
func (d *PantheonDriver) Register(cap AgentCapability) {
	d.busInst.Register(cap.Name())
	d.capabilities[cap.Name()] = cap
}

// Run drives task through the full 9-step pipeline, starting with an
// Observe input message carrying the caller-supplied seed payload. Each
// step's input and output are actual Bus traffic — runStep request-
// replies through d.busInst, exactly as spec.md §4.8 point 1/4 and
// SPEC_FULL.md §4.8 require — not a plain function call dressed up in
// Message shape. Any step that errors (a capability panic is not
// recovered — that is a caller bug, per spec.md's error taxonomy
// distinguishing caller bugs from recoverable failures) aborts the
// pipeline and closes the task.
func (d *PantheonDriver) Run(ctx context.Context, task *coordinator.Task, driverName string, seed map[string]any) (map[string]any, *FailureRecord) {
	// The driver itself needs a registered bus identity so the first
	// step's reply (addressed back to its sender) has somewhere to
	// resolve to — scoped to this task so concurrent Run calls never
	// share it.
	driverInbox := driverName + ":" + task.ID
	d.busInst.Register(driverInbox)
	defer d.busInst.Unregister(driverInbox)

	payload := seed
	for i, step := range Steps {
		cap, ok := d.capabilities[step]
		if !ok {
			continue // step has no registered persona; skip, matching "agent personas are out of scope"
		}

		var sender string
		if i == 0 {
			sender = driverInbox
		} else {
			sender = Steps[i-1]
		}

		input := bus.NewMessage(sender, step, step, payload)
		input.Priority = bus.PriorityNormal

		result, failure := d.runStep(ctx, task, cap, input)
		if failure != nil {
			d.abort(task, failure)
			return nil, failure
		}
		payload = result
	}
	return payload, nil
}

// runStep hands input to cap by actually routing it through the Bus: a
// one-shot worker goroutine consumes the step's inbox (the same queue
// Register bound cap.Name() to), calls Handle, and replies; the caller
// side blocks on Bus.Request for that reply. This is the "pulls its
// input from the Bus" / "sends a message to the next step" contract
// from spec.md §4.8, not a decorative Message built only for its shape.
func (d *PantheonDriver) runStep(ctx context.Context, task *coordinator.Task, cap AgentCapability, input *bus.Message) (map[string]any, *FailureRecord) {
	start := time.Now()
	component := "pantheon." + cap.Name()
	rc := &Context{Task: task, Bus: d.busInst, GW: d.gw, Coord: d.coord, Provider: d.provider}

	// stepCtx bounds the worker's Consume wait; cancelling it is also how
	// a capability error unblocks the pending Request immediately instead
	// of waiting out the full request timeout.
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handled := make(chan error, 1)
	go func() {
		msg, err := d.busInst.Consume(stepCtx, cap.Name())
		if err != nil {
			handled <- err
			return
		}
		result, err := cap.Handle(ctx, msg, rc)
		if err != nil {
			handled <- err
			cancel()
			return
		}
		handled <- nil
		_ = d.busInst.Send(bus.Reply(msg, cap.Name()+".result", result))
	}()

	replyMsg, reqErr := d.busInst.Request(stepCtx, input, d.requestWait)

	// A non-blocking read: when the worker replied (or errored and
	// cancelled) before Request returned, its result is already buffered
	// here. When Request instead returned because its own timeout
	// elapsed first — the worker is still running Handle against the
	// caller's ctx, not stepCtx — don't block runStep on it; the worker's
	// eventual reply, if any, arrives after this step has already failed
	// and is dropped per the bus's "no reply after waiter removed" rule.
	var capErr error
	select {
	case capErr = <-handled:
	default:
	}
	latency := time.Since(start)

	if capErr != nil {
		errClass := "terminal"
		if gateway.IsTransient(capErr) {
			errClass = "transient"
			// Controller-level failures feed the resilience layer even
			// though the driver itself never retries (retries are
			// Gateway-only, per spec.md §7).
			d.breakers.RecordFailure(resilience.ComponentCoordinator)
		}
		if d.recorder != nil {
			d.recorder.Record(component, latency, false, errClass)
		}
		return nil, &FailureRecord{
			TaskID:        task.ID,
			Step:          cap.Name(),
			Kind:          capErr,
			TelemetryNote: errClass,
		}
	}

	if reqErr != nil {
		// The worker never replied for a reason other than a capability
		// error (e.g. the request timeout elapsed first) — still a
		// step-level failure, just one the Bus itself raised.
		if d.recorder != nil {
			d.recorder.Record(component, latency, false, "bus_error")
		}
		return nil, &FailureRecord{TaskID: task.ID, Step: cap.Name(), Kind: reqErr, TelemetryNote: "bus_error"}
	}

	if d.recorder != nil {
		d.recorder.Record(component, latency, true, "")
	}

	result := replyMsg.Payload

	tokens := estimateTokens(input, result)
	if _, spendErr := d.coord.Spend(task, tokens, "step:"+cap.Name()); spendErr != nil {
		return nil, &FailureRecord{TaskID: task.ID, Step: cap.Name(), Kind: spendErr}
	}

	bbKey := "agent:" + cap.Name() + ":result"
	if err := d.coord.BBWrite(task, bbKey, fmt.Sprintf("%v", result)); err != nil {
		return nil, &FailureRecord{TaskID: task.ID, Step: cap.Name(), Kind: err}
	}

	return result, nil
}

// estimateTokens implements the fixed token accounting policy: a
// character-length estimate of the outbound content, overridden by an
// explicit "usage_tokens" field in the step's result when present (the
// best-available-estimate the gateway reported for that step's
// provider call, if any).
func estimateTokens(input *bus.Message, result map[string]any) int {
	if usage, ok := result["usage_tokens"]; ok {
		if n, ok := usage.(int); ok && n > 0 {
			return n
		}
	}
	var content string
	if c, ok := input.Payload["content"].(string); ok {
		content = c
	}
	if len(content) == 0 {
		return fallbackTokenEstimate
	}
	return len(content)
}

func (d *PantheonDriver) abort(task *coordinator.Task, failure *FailureRecord) {
	summary, _ := d.coord.CloseTask(task)
	failure.BudgetStatus = summary.Status
	failure.BlackboardKeys = summary.BlackboardKeyCount
	d.log.Error("pipeline aborted",
		"task_id", task.ID, "step", failure.Step, "error", failure.Kind,
		"budget_status", summary.Status)
}
