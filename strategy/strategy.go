// Package strategy decides, per table, how change detection will be
// performed: by comparing a ROWVERSION high-water mark, or by comparing a
// row hash when no rowversion column is available.
package strategy

import (
	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/ledger"
)

// Kind names a change-detection approach.
type Kind string

const (
	// Rowversion compares against a previously recorded high-water mark:
	// only rows whose ROWVERSION exceeds it are candidates for INSERT/UPDATE.
	Rowversion Kind = "rowversion"

	// RowversionInitial is Rowversion's first run for a table: there is no
	// prior high-water mark, so every source row is a candidate and the
	// destination row set determines INSERT vs UPDATE.
	RowversionInitial Kind = "rowversion_initial"

	// Hash has no rowversion column to rely on: every row's data columns
	// are hashed and compared against the same hash computed over the
	// destination's row.
	Hash Kind = "hash"
)

// Select chooses the strategy for a table given its schema and any prior
// ledger entry. A table keeps using Rowversion once it has one; a table
// never synced before that has a rowversion column starts at
// RowversionInitial rather than Rowversion, since there is nothing to
// compare the first high-water mark against. A stored high-water mark is
// only trusted when it was recorded against the same rowversion column
// still present on the table today: if the column was dropped and
// recreated (or replaced by a differently named one), its values start over
// from zero and comparing against the old mark would silently miss every
// row, so that case is treated the same as a first run.
func Select(schema *catalog.TableSchema, priorEntry ledger.Entry, hasPriorEntry bool) Kind {
	if rv, ok := schema.RowversionColumn(); ok {
		sameColumn := hasPriorEntry && priorEntry.RowversionColumn == rv.Name
		if !sameColumn || len(priorEntry.HighWaterMark) == 0 {
			return RowversionInitial
		}
		return Rowversion
	}
	return Hash
}
