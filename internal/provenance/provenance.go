package provenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/expkit/internal/record"
)

// Reader is the subset of the store used to resolve provenance links.
type Reader interface {
	GetRawData(ctx context.Context, location string) (*record.RawData, error)
	GetProcessedData(ctx context.Context, location string) (*record.ProcessedData, error)
}

// ErrCycle is returned when a provenance chain revisits a record. The store
// cannot construct one, so it indicates a corrupted tree.
var ErrCycle = errors.New("provenance cycle")

// GetParent resolves the primary input of pd. Returns nil, nil when pd has
// no inputs or its primary input is a merge scratch file.
func GetParent(ctx context.Context, r Reader, pd *record.ProcessedData) (record.DataRecord, error) {
	in, ok := pd.Primary()
	if !ok {
		return nil, nil
	}
	switch in.Kind {
	case record.KindRaw:
		rd, err := r.GetRawData(ctx, in.Location)
		if err != nil {
			return nil, err
		}
		return rd, nil
	case record.KindProcessed:
		parent, err := r.GetProcessedData(ctx, in.Location)
		if err != nil {
			return nil, err
		}
		return parent, nil
	case record.KindMerged:
		return nil, nil
	default:
		return nil, fmt.Errorf("get parent of %s: unknown input kind %q", pd.Location, in.Kind)
	}
}

// GetOrigin follows primary inputs from pd until a RawData is reached.
// Returns nil, nil if the chain ends before one.
func GetOrigin(ctx context.Context, r Reader, pd *record.ProcessedData) (*record.RawData, error) {
	chain, err := Chain(ctx, r, pd)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}
	raw, _ := chain[len(chain)-1].(*record.RawData)
	return raw, nil
}

// Chain returns the ancestors of pd in order, nearest first. The last
// element is the origin RawData when the chain reaches one.
func Chain(ctx context.Context, r Reader, pd *record.ProcessedData) ([]record.DataRecord, error) {
	visited := map[string]bool{pd.UUID: true}
	var chain []record.DataRecord

	current := pd
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent, err := GetParent(ctx, r, current)
		if err != nil {
			return nil, fmt.Errorf("walk provenance: %w", err)
		}
		if parent == nil {
			return chain, nil
		}
		id := parent.Meta().UUID
		if visited[id] {
			return nil, fmt.Errorf("walk provenance from %s: %w at %s", pd.Location, ErrCycle, parent.Meta().Location)
		}
		visited[id] = true
		chain = append(chain, parent)

		next, ok := parent.(*record.ProcessedData)
		if !ok {
			return chain, nil
		}
		current = next
	}
}
