/*
Package metrics exposes fleetgraph's Prometheus instrumentation.

Every counter/gauge/histogram is registered at package init against
the default Prometheus registry and exported over Handler() (mounted
at GET /metrics on both the Manager and Worker HTTP servers). Names
follow a fleetgraph_<subsystem>_<unit> convention:

  - fleetgraph_workers_total, fleetgraph_nodes_by_fsm{fsm}: cluster
    membership and lifecycle distribution, polled from ManagerState on
    a fixed interval by manager.MetricsCollector.
  - fleetgraph_commit_duration_seconds: how long the Manager's
    commit_graph route takes, timed with Timer.
  - fleetgraph_registered_method_duration_seconds{style}: registered-
    method call latency, timed with Timer. The label names where the
    call was timed, not the method's dispatch style: "proxied" on the
    Manager, "direct" on the Worker.
  - fleetgraph_api_requests_total{method,status},
    fleetgraph_api_request_duration_seconds{method}: HTTP request
    volume and latency on both north- and south-bound servers.

The following are registered and exported, but no code in this module
updates them, so they stay at zero:
fleetgraph_lifecycle_op_duration_seconds{op},
fleetgraph_fsm_transitions_total{from,to},
fleetgraph_ws_backpressure_drops_total{hub},
fleetgraph_pubsub_drops_total{node_id},
fleetgraph_record_writer_entries_total{node_id,stream} and
fleetgraph_heartbeat_misses_total{worker_id}.

Timer is a small stopwatch helper (NewTimer, ObserveDuration,
ObserveDurationVec) used by the commit and registered-method call
sites above instead of hand-rolled time.Since math.
*/
package metrics
