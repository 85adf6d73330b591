/*
Package types is the shared vocabulary of the storage federation layer.

It defines the Driver Contract every backend implements (Driver, Capability,
Entry, Range, ReadCloser/WriteCloser), the Registry's description of a
backend kind (DriverKind, Schema, ConfigError), and the Task Manager's
public snapshot types (Task, TaskState, Progress, Event).

# Architecture overview

	┌──────────────────────────────────────────────┐
	│   HTTP / WebDAV / FUSE (out of scope)         │
	└──────────────────────────────────────────────┘
	                     │
	┌──────────────────────────────────────────────┐
	│  File Operations Engine (internal/engine)     │
	└──────────────────────────────────────────────┘
	        │                      │
	┌───────┴────────┐   ┌─────────┴──────────┐
	│ Mount Manager / │   │   Task Manager      │
	│ Path Resolver    │   │ (internal/tasks)    │
	└───────┬────────┘   └─────────┬──────────┘
	        │                      │
	┌───────┴──────────────────────┴──────────────┐
	│         Driver instances (pkg/types.Driver)   │
	│   local, s3, ftp, sftp, webdav, onedrive, ...  │
	└────────────────────────────────────────────────┘

# Implementing a new driver

	type MyDriver struct{ client *myservice.Client }

	func (d *MyDriver) Capabilities() types.CapabilitySet {
		return types.NewCapabilitySet(types.CapList, types.CapRead, types.CapWriteWhole)
	}

	func (d *MyDriver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
		items, err := d.client.List(innerPath)
		if err != nil {
			return nil, errors.Wrap(errors.Transient, err, "list failed")
		}
		...
	}

A driver need not implement every Driver method meaningfully — it must only
be correct about what Capabilities() declares; the engine never calls a
method whose capability is absent, except the always-available ones
(List, OpenReader, Delete, CreateDir, HealthCheck).
*/
package types
