// Package backend defines the execution surfaces the turn engine depends
// on: report execution, document writes, and entity master lookups. A
// sqlite-backed local implementation ships for the CLI demo and tests.
package backend

import (
	"context"
	"errors"

	"reportlens/internal/types"
)

// ErrCapabilityUnknown is returned when an executor has no data source for
// the requested capability.
var ErrCapabilityUnknown = errors.New("capability unknown to backend")

// ReportExecutor runs one capability with concrete filters and returns the
// raw result table. Implementations must not retain the returned table.
type ReportExecutor interface {
	Execute(ctx context.Context, capability string, filters map[string]string) (*types.Table, error)
}

// DocumentWriter applies a confirmed document mutation and returns the
// identity fields of the touched document.
type DocumentWriter interface {
	Apply(ctx context.Context, draft *types.WriteDraft) (map[string]string, error)
}

// Entity is one master record with every surface form it may be referred
// to by.
type Entity struct {
	Name    string
	Aliases []string
}

// EntityDirectory lists master records of one entity kind for filter
// validation.
type EntityDirectory interface {
	Candidates(ctx context.Context, kind string) ([]Entity, error)
}
