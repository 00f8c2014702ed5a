// Package runtime implements the Agent Runtime Skeleton: the small
// contract every agent persona satisfies, and the Pantheon driver that
// runs the fixed 9-step pipeline across the bus, the gateway, and the
// coordinator. Agent personas themselves are out of scope — only their
// contract is specified (spec.md §4.8).
package runtime

import (
	"context"

	"github.com/pantheon-run/pantheon-core/pkg/bus"
	"github.com/pantheon-run/pantheon-core/pkg/coordinator"
	"github.com/pantheon-run/pantheon-core/pkg/gateway"
)

// Context is what a capability's Handle receives alongside its input
// message: the task handle (budget + permissions + blackboard), a
// non-owning pointer to the bus (per DESIGN NOTES §9 — no structural
// cycle back to the Bus itself is held here beyond the pointer needed to
// send/request), and the Gateway for outbound provider calls.
type Context struct {
	Task  *coordinator.Task
	Bus   *bus.Bus
	GW    *gateway.Gateway
	Coord *coordinator.Coordinator

	// Provider is the name the capability should call through the
	// Gateway with, resolved once by the driver from configuration.
	Provider string
}

// AgentCapability is the small, stable interface every agent persona
// satisfies (DESIGN NOTES §9's "capability record"). Handle consumes one
// input message and returns the payload for its step's result; it does
// not itself send on the bus or write to the blackboard — the driver
// does both uniformly around every step so that step bookkeeping (the
// `agent:{name}:result` write, the handoff send) is not duplicated in
// every persona.
type AgentCapability interface {
	// Name is the step/persona name, used for the blackboard key and
	// for bus participant registration.
	Name() string
	Handle(ctx context.Context, input *bus.Message, rc *Context) (map[string]any, error)
}
