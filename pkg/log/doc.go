/*
Package log provides structured logging for fleetgraph using zerolog.

Every Manager, Worker, and Node component constructs a component-
scoped child logger at startup (WithComponent, WithWorkerID,
WithNodeID) rather than calling a global logger from business logic;
the package-level Logger exists only as the base those children are
derived from and for CLI-level messages before a component exists.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	workerLog := log.WithWorkerID(cfg.ID).With().Str("component", "worker").Logger()

JSONOutput selects structured JSON (production, piped to a log
aggregator) versus zerolog's console writer (local development). Level
filters below zerolog's global level are dropped before formatting.
*/
package log
