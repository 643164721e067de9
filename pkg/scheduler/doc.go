/*
Package scheduler provides lifecycle convergence polling for
fleetgraph's Manager.

Every Manager lifecycle operation (commit, start, record, stop,
collect, reset) is a broadcast: the WorkerHandler fans a command out
to every targeted Worker and then has to know when every affected
Node has actually reached the state the command implies. A Poller is
that wait: given an FSMSource (a read-only lookup of "what FSM is
node X in right now", backed by the Manager's ManagerState) and a
target types.FSM, AwaitFSM re-checks on a fixed interval until every
node converges, the caller's context is cancelled, or a timeout
elapses.

	┌───────────────┐  broadcast   ┌──────────┐
	│ WorkerHandler │ ───────────► │  Workers  │
	└───────┬───────┘              └────┬─────┘
	        │                           │ status updates
	        │ AwaitFSM(ids, target)     ▼
	        │                     ManagerState.Workers[*].Nodes[*].FSM
	        ▼
	┌───────────────┐
	│    Poller     │  polls FSMSource on an interval
	└───────────────┘

On timeout the Poller publishes events.EventNodeFailed for every node
that never converged and returns a *types.TimeoutError alongside the
partial result; per spec.md §5 it never kills the Node itself, only
reports the stall back to the caller.
*/
package scheduler
