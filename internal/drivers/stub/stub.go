// Package stub registers driver kinds whose wire protocols this repository
// does not implement: their schemas and declared
// capabilities are real, but every I/O method returns Unsupported rather
// than talking to the backend (construction-time problems are reported as a
// *types.ConfigError). This lets the registry, resolver, and engine all be fully
// exercised against every named kind (schema validation, mount/unmount,
// capability-based fallback selection) without each kind needing a working
// client library and live account to test against.
package stub

import (
	"context"

	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func init() {
	register("onedrive", "Microsoft OneDrive", types.Schema{Fields: []types.SchemaField{
		{Name: "access_token", Type: "string", Required: true, Format: "password"},
		{Name: "refresh_token", Type: "string", Required: false, Format: "password"},
		{Name: "drive_id", Type: "string", Required: false},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapReadRange, types.CapWriteWhole,
		types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy, types.CapDirectLink,
	))

	register("pan123", "123 Pan", types.Schema{Fields: []types.SchemaField{
		{Name: "access_token", Type: "string", Required: true, Format: "password"},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapWriteWhole,
		types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove,
	))

	register("quark", "Quark Drive", types.Schema{Fields: []types.SchemaField{
		{Name: "cookie", Type: "string", Required: true, Format: "password"},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapWriteWhole,
		types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove,
	))

	register("lanzou", "Lanzou Cloud", types.Schema{Fields: []types.SchemaField{
		{Name: "cookie", Type: "string", Required: true, Format: "password"},
		{Name: "share_password", Type: "string", Required: false, Format: "password"},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapWriteWhole, types.CapDelete, types.CapMkdir,
	))

	register("pikpak", "PikPak", types.Schema{Fields: []types.SchemaField{
		{Name: "username", Type: "string", Required: true},
		{Name: "password", Type: "string", Required: true, Format: "password"},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapWriteWhole,
		types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove,
	))

	register("ctyun139", "China Telecom 139 Cloud", types.Schema{Fields: []types.SchemaField{
		{Name: "phone_number", Type: "string", Required: true},
		{Name: "auth_token", Type: "string", Required: true, Format: "password"},
	}}, types.NewCapabilitySet(
		types.CapList, types.CapRead, types.CapWriteWhole, types.CapDelete, types.CapMkdir,
	))
}

func register(kind, displayName string, schema types.Schema, caps types.CapabilitySet) {
	registry.Default().Register(types.DriverKind{
		Kind:        kind,
		DisplayName: displayName,
		Schema:      schema,
		New: func(config map[string]any) (types.Driver, error) {
			for _, field := range schema.Fields {
				if field.Required {
					if v, ok := config[field.Name].(string); !ok || v == "" {
						return nil, &types.ConfigError{Field: field.Name, Reason: "required field missing"}
					}
				}
			}
			return &driver{kind: kind, caps: caps}, nil
		},
	})
}

// driver satisfies types.Driver for a registered-but-unimplemented kind.
type driver struct {
	kind string
	caps types.CapabilitySet
}

func (d *driver) Name() string                       { return d.kind }
func (d *driver) Capabilities() types.CapabilitySet { return d.caps }

func (d *driver) unsupported(operation, path string) error {
	return errors.New(errors.Unsupported, d.kind+" driver is registered but not yet implemented").
		WithComponent(d.kind).WithOperation(operation).WithPath(path)
}

func (d *driver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	return nil, d.unsupported("list", innerPath)
}

func (d *driver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	return nil, d.unsupported("open_reader", innerPath)
}

func (d *driver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	return d.unsupported("put", innerPath)
}

func (d *driver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	return nil, d.unsupported("open_writer", innerPath)
}

func (d *driver) Delete(ctx context.Context, innerPath string) error {
	return d.unsupported("delete", innerPath)
}

func (d *driver) CreateDir(ctx context.Context, innerPath string) error {
	return d.unsupported("create_dir", innerPath)
}

func (d *driver) Rename(ctx context.Context, innerPath, newName string) error {
	return d.unsupported("rename", innerPath)
}

func (d *driver) MoveItem(ctx context.Context, src, dst string) error {
	return d.unsupported("move_item", src)
}

func (d *driver) CopyItem(ctx context.Context, src, dst string) error {
	return d.unsupported("copy_item", src)
}

func (d *driver) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", d.unsupported("direct_link", innerPath)
}

func (d *driver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error) {
	return types.SpaceInfo{}, d.unsupported("space_info", "")
}

func (d *driver) HealthCheck(ctx context.Context) error {
	return d.unsupported("health_check", "")
}
