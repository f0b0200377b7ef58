package pipeline

import (
	"context"
	"fmt"

	"sheetload/internal/reconcile"
	"sheetload/internal/storage"
)

// Destination is the resolved target table of a run.
type Destination struct {
	Schema  string
	Table   string
	Columns reconcile.DestinationSchema
}

// QualifiedName is "schema.table".
func (d Destination) QualifiedName() string { return d.Schema + "." + d.Table }

// ResolveDestination introspects schema.table through repo.
//
// Errors:
//   - wraps storage.ErrTableNotFound when the table has no columns.
//   - *reconcile.KeyCollisionError when two destination columns normalize to
//     the same key.
func ResolveDestination(ctx context.Context, repo storage.Repository, schema, table string) (Destination, error) {
	names, err := repo.Columns(ctx, schema, table)
	if err != nil {
		return Destination{}, fmt.Errorf("pipeline: resolve %s.%s: %w", schema, table, err)
	}
	cols, err := reconcile.NewDestinationSchema(names)
	if err != nil {
		return Destination{}, fmt.Errorf("pipeline: resolve %s.%s: %w", schema, table, err)
	}
	return Destination{Schema: schema, Table: table, Columns: cols}, nil
}
