// Package catalog stores the ingested MBS item catalog in SQLite with an
// FTS5 index over descriptions, and memoizes Rule Parser output per item
// so retrieval rounds don't re-parse the same description repeatedly.
//
// Ingestion of catalog data itself is out of scope: this package only reads/writes what an external ingestion
// process has already populated, plus the parse cache it owns outright.
package catalog

// Item is one MBS catalog entry, covering both the "new" schema
// (structured duration hints) and legacy records that carry only a
// free-text description.
type Item struct {
	Code        string
	Title       string
	Description string
	Group       string
	Subgroup    string
	Fee         *float64

	DurationMinMinutes   *int
	DurationMaxMinutes   *int
	DurationMinInclusive *bool
	DurationMaxInclusive *bool
}
