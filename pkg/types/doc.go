/*
Package types defines the core data structures shared across
fleetgraph.

It holds the cluster's data model (NodeState, WorkerState,
ManagerState), the pipeline topology a caller submits (Graph,
Mapping, NodeConfig), the data-plane wire types (DataChunk,
NodeServerData), the record-plane type (RecordEntry), and the error
kinds every other package reports through.

Nothing in this package owns a mutex or a goroutine; it is pure data
plus the small helpers (constructors, Ok()) that make the data
convenient to build.
*/
package types
