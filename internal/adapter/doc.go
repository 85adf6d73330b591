/*
Package adapter provides the central orchestration component that wires the
driver registry, mount resolver, file operations engine, task manager, and
monitoring surfaces into one running process.

The Gateway serves as the main coordination point: it builds every mount in
the configuration's mount table into a live driver instance, exposes one
Engine over all of them, runs background tasks through the Task Manager,
tracks component health and in-flight operation status, and optionally
serves an HTTP monitoring API and a FUSE mount.

# Architecture Role

The Gateway acts as the conductor:

	┌─────────────────────────────────────────────┐
	│        Client Apps (FUSE mount, API)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               GATEWAY LAYER                 │ ← This Package
	│  • Mount Table Wiring                        │
	│  • Lifecycle Management                      │
	│  • Configuration Integration                 │
	│  • Health/Status Tracking                     │
	└─────────────────────────────────────────────┘
	        │         │         │         │
	┌───────┴───┐ ┌───┴────┐ ┌──┴─────┐ ┌──┴────────┐
	│ Resolver  │ │ Engine │ │ Tasks  │ │ Metrics   │
	│ (Mounts)  │ │ (Ops)  │ │(Async) │ │(Monitor)  │
	└───────────┘ └────────┘ └────────┘ └───────────┘

# Component Integration

The Gateway manages these subsystems:

Driver Registry:
Every driver package self-registers its DriverKind via init(); the binary's
main package blank-imports the driver packages it wants available, and the
Gateway builds against the resulting registry.Default().

Resolver:
Builds one live driver instance per enabled mount record and owns the path
resolution table the Engine dispatches through.

Engine:
The single entry point for List/Put/OpenReader/Delete/Rename/MoveItem/
CopyItem/CreateDir, with retry and listing-cache policy applied uniformly
across every mounted driver kind.

Task Manager:
Runs long-lived operations (bulk copies, moves) as cancellable background
jobs with bounded global and per-driver concurrency.

Health and Status Trackers:
Periodically poll every mount's reachability and track in-flight operation
state for the monitoring API.

Metrics Collector:
Prometheus-backed counters and histograms for operation latency, size, and
outcome, plus cache hit/miss tracking.

# Lifecycle Management

Start wires every component in dependency order and, if configured, mounts
the FUSE filesystem and starts the HTTP monitoring server. Stop tears them
down in reverse order, flushing any buffered writes before unmounting.
*/
package adapter
