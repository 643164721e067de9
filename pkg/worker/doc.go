/*
Package worker implements the Worker tier: it registers with the
Manager, hosts every Node assigned to it through a NodeHandler, and
exposes the south-bound HTTP API (spec.md §4.6/§6.1) the Manager's
WorkerHandler drives commit/lifecycle/registered-method calls through.

# Node hosting

CreateNode hosts a Node either in-process (cfg.Lightweight, a goroutine
sharing the Worker's address space) or as a subordinate OS process
(spawnNodeProcess, via the internal-run-node CLI subcommand). The
subprocess path speaks a JSON-framed control-channel protocol back to
the Worker (control.go): a "handshake" on connect, then controlCommand/
controlEvent pairs for setup/connect/start/stop/collect/method calls
and state/failure/gather events. The in-process path calls its
node.Runtime directly and forwards the same controlEvent values over Go
channels, with no handshake and no JSON framing.

# South-bound HTTP API

buildEngine wires spec.md §6.1's route table onto NodeHandler's
methods. Every response uses the same {success, error, data} envelope
as the Manager's north-bound API (envelope.go), kept as a separate,
undependent copy so a Worker binary never needs to import pkg/api.

# Liveness and reporting

NodeLivenessMonitor polls the PID of every subprocess-hosted Node via
pkg/health and marks a Node failed on sustained liveness-check
failure. RunHeartbeat reports NodeHandler.Snapshot() to the Manager on
an interval; managerClient is the small HTTP client used for
registration, heartbeats, and archive-ready notifications.
*/
package worker
