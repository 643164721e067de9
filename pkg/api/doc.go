/*
Package api implements the Manager's north-bound HTTP+WebSocket API
(spec.md §4.8/§6.3), the interface UI clients use to register
workers, commit a graph, drive the pipeline lifecycle, and stream
cluster status in real time.

# Routes

Worker membership:

	POST /workers/register           {id, name, ip, port}
	POST /workers/:id/deregister
	POST /workers/:id/heartbeat       {nodes: map[node_id]NodeState}
	POST /workers/:id/archive         {session, dir}

Graph commit:

	POST /graph/commit                {graph, mapping}

Lifecycle (each broadcasts to every registered Worker and returns a
PartialCompletion):

	POST /lifecycle/start              {record: bool}
	POST /lifecycle/record
	POST /lifecycle/stop
	POST /lifecycle/collect
	POST /lifecycle/reset              {keep_workers: bool}

Registered-method proxy:

	POST /methods/request              {node_id, method, params, timeout}

Discovery toggle (spec.md's discovery surface is interface-only, see
pkg/discovery; these routes just flip the Server's advisory flag):

	POST /discovery/enable
	POST /discovery/disable

Cluster control and observability:

	POST /shutdown
	GET  /state                        full ManagerState snapshot
	GET  /health
	GET  /metrics                      Prometheus exposition
	GET  /ws                           NODE_STATUS_UPDATE / NETWORK_STATUS_UPDATE

# WebSocket stream

Hub fans every subscribed client a JSON WSMessage{kind, data}. A
NETWORK_STATUS_UPDATE carries the full ManagerState and is emitted on
every events.EventManagerStateChanged the Manager's EventedState
publishes. A NODE_STATUS_UPDATE carries a single node id and is
emitted on events.EventNodeStatusChanged. Each client has its own
bounded send queue; a client whose queue stays full across more than
Config.WSMaxBackpressureFrame consecutive broadcasts is disconnected,
per spec.md §4.8's slowest-consumer policy.

# Response envelope

Every route except /health, /metrics and /ws responds with {success,
error: {kind, message, details}, data}, matching spec.md §7's error-kind taxonomy via types.Kinded.
*/
package api
