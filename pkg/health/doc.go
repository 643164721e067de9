/*
Package health provides liveness checking for Node processes hosted by
a Worker.

A Worker that hosts a Node in a subordinate OS process has no
guarantee the child keeps running: it can crash, be OOM-killed, or
exit on an unhandled panic without ever sending a controlEvent back
over the control channel. This package supplies the Checker a Worker
polls on an interval to notice that before a heartbeat timeout would.

# Checker Types

	Checker (interface)
	├── ProcessChecker (signal 0 against a PID)
	└── ExecChecker    (run a host command, exit 0 == healthy)

ProcessChecker is what worker.NewNodeLivenessMonitor uses against the
PIDs NodeHandler.PIDs reports for every subprocess-hosted Node.
ExecChecker exists for Nodes that expose their own self-check script
and is otherwise unused by the Worker.

# Status and Hysteresis

Status accumulates consecutive Check results so a single missed check
(a GC pause, a slow exec) doesn't immediately declare a Node dead:

	Healthy → 1 failure  → still healthy
	Healthy → 2 failures → still healthy
	Healthy → 3 failures → unhealthy

Config.Retries controls the threshold; DefaultConfig matches the
cadence the Worker's liveness monitor runs at (5s interval, 2s
timeout, 3 retries).

# Usage

	status := health.NewStatus()
	cfg := health.DefaultConfig()
	checker := health.NewProcessChecker(pid)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		result := checker.Check(ctx)
		cancel()

		status.Update(result, cfg)
		if !status.Healthy {
			// publish events.EventNodeFailed
			break
		}
		time.Sleep(cfg.Interval)
	}
*/
package health
