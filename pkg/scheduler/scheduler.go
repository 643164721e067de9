/*
Package scheduler implements lifecycle convergence polling for the
Manager: after a commit or lifecycle broadcast (start/record/stop)
has been sent to every Worker, something has to wait for every
targeted Node to actually report the expected FSM state before the
operation's future resolves. That's this package's one job.
*/
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetgraph/fleetgraph/pkg/events"
	"github.com/fleetgraph/fleetgraph/pkg/log"
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// DefaultInterval is how often the Poller re-checks Node FSM state
// while waiting for convergence.
const DefaultInterval = 200 * time.Millisecond

// FSMSource looks up the current FSM of a single Node by id. The
// Manager's ManagerState (via events.EventedState.View) is the
// production implementation; tests can supply a map-backed stub.
type FSMSource func(nodeID string) (types.FSM, bool)

// Poller drives lifecycle convergence by re-polling an FSMSource on a
// fixed interval until every targeted Node reports the expected state
// or the caller's timeout elapses. It never mutates state itself; it
// only observes and reports.
type Poller struct {
	source   FSMSource
	bus      *events.Bus
	logger   zerolog.Logger
	interval time.Duration
}

// NewPoller builds a Poller. interval <= 0 uses DefaultInterval.
func NewPoller(source FSMSource, bus *events.Bus, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		bus:      bus,
		logger:   log.WithComponent("scheduler"),
		interval: interval,
	}
}

// AwaitFSM blocks until every id in nodeIDs reports exactly target,
// ctx is cancelled, or timeout elapses (timeout <= 0 means no
// deadline beyond ctx). On timeout it publishes events.EventNodeFailed
// for every node that never converged and returns a *types.TimeoutError
// alongside the partial result, per spec.md §5's "does not forcibly
// kill Nodes; it leaves them in whatever state they reached".
func (p *Poller) AwaitFSM(ctx context.Context, nodeIDs []string, target types.FSM, timeout time.Duration) (*types.PartialCompletion, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		result := p.check(nodeIDs, target)
		if result.Ok() {
			return result, nil
		}

		select {
		case <-ticker.C:
			continue
		case <-waitCtx.Done():
			for nodeID, reason := range result.Failed {
				p.logger.Warn().Str("node_id", nodeID).Str("target", string(target)).Str("reason", reason).Msg("node did not converge before timeout")
				p.bus.Publish(events.EventNodeFailed, &types.NodeFailed{NodeID: nodeID, Reason: reason})
			}
			return result, &types.TimeoutError{
				Operation: fmt.Sprintf("await fsm %s", target),
				Timeout:   time.Since(start).String(),
			}
		}
	}
}

// check takes one snapshot of every targeted Node's FSM without
// sleeping, used both by AwaitFSM's loop and directly by callers that
// only need a point-in-time convergence check (e.g. a status poll
// endpoint).
func (p *Poller) check(nodeIDs []string, target types.FSM) *types.PartialCompletion {
	result := types.NewPartialCompletion()
	for _, id := range nodeIDs {
		fsm, ok := p.source(id)
		switch {
		case !ok:
			result.Failed[id] = "node not found"
		case fsm == types.FSMShutdown && target != types.FSMShutdown:
			result.Failed[id] = "node shut down before converging"
		case fsm == target:
			result.Succeeded = append(result.Succeeded, id)
		default:
			result.Failed[id] = fmt.Sprintf("still %s", fsm)
		}
	}
	return result
}

// Check runs one convergence check against nodeIDs without blocking,
// for callers that want a snapshot rather than to wait.
func (p *Poller) Check(nodeIDs []string, target types.FSM) *types.PartialCompletion {
	return p.check(nodeIDs, target)
}
