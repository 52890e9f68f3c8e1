// Package admin provides administrative operations for database management.
package admin

import (
	"context"
	"time"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

// Resetter clears the tables of a store.
type Resetter interface {
	ResetEntities(ctx context.Context) error
	ResetReferences(ctx context.Context) error
}

type resetFn func(ctx context.Context) error

// ResetAll deletes every converted row and reference entry.
// This is a destructive operation - use with caution.
func ResetAll(ctx context.Context, r Resetter) error {
	return runResets(ctx, []resetFn{r.ResetEntities, r.ResetReferences})
}

// ResetEntities deletes the converted rows but keeps the reference entries,
// so a later run can still read its foundational kinds from the store.
func ResetEntities(ctx context.Context, r Resetter) error {
	return runResets(ctx, []resetFn{r.ResetEntities})
}

func runResets(ctx context.Context, resets []resetFn) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	for _, reset := range resets {
		if err := reset(ctx); err != nil {
			return err
		}
	}
	return nil
}
