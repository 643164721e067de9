/*
Package client is a Go client library for the Manager's north-bound
HTTP+WebSocket API (spec.md §4.8/§6.3): worker registration, graph
commit, lifecycle commands, registered-method dispatch, cluster state,
and a persistent WS subscription to NODE_STATUS_UPDATE/
NETWORK_STATUS_UPDATE broadcasts.

Watch opens the WS stream and reconnects automatically with
exponential backoff bounded by Config.ReconnectBaseMS/ReconnectCapMS,
matching spec.md §4.4's Client primitive. pkg/worker's Worker uses the
HTTP half of this client (register/heartbeat/archive) for its own
HttpClientService role; the CLI and any other external caller get the
full surface.
*/
package client
