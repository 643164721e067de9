/*
Package events implements fleetgraph's process-local event bus and
the Service/ServiceGroup composition primitive every long-running
component (Manager, WorkerHandler, Worker, NodeHandler) is built
from.

A Bus dispatches Events to TypedObserver bindings asynchronously, one
goroutine per observer, so a slow handler never blocks publishers or
other observers. EventedState wraps the Manager's ManagerState so
every mutation publishes an EventManagerStateChanged snapshot for UI
consumers, mirroring the evented dataclass the state is modeled on.
*/
package events
