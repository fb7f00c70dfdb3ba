package persist

import "github.com/jacentio/strata/kv"

// WriteDefaults is the baseline write directive every operation inherits.
// Per-call policies built by the engine override the concurrency and
// existence directives but keep these values.
type WriteDefaults struct {
	// Commit is the replica acknowledgement level for writes.
	// Default: kv.CommitAll
	Commit kv.CommitLevel

	// DurableDelete asks the store to persist tombstones on delete.
	DurableDelete bool

	// SendKey stores the original user key alongside each record so it
	// round-trips in fetches.
	SendKey bool
}

// Config holds configuration for the Template.
type Config struct {
	// Namespace is the store namespace all records are written to.
	// Default: "strata"
	Namespace string

	// PreserveKeyTypes selects the native key type by the id's Go type
	// (integers become integer keys, byte slices become bytes keys) instead
	// of converting every id to its string form.
	//
	// This setting decides which records existing ids resolve to: flipping
	// it after any keys have been written makes those records unreachable
	// under their old ids. Treat it as immutable for the lifetime of a
	// deployment, not a style preference.
	PreserveKeyTypes bool

	// WriteDefaults is the baseline write directive.
	WriteDefaults WriteDefaults
}

// DefaultConfig returns sensible defaults: namespace "strata", type-preserving
// keys and all-replica commits.
func DefaultConfig() Config {
	return Config{
		Namespace:        "strata",
		PreserveKeyTypes: true,
		WriteDefaults: WriteDefaults{
			Commit: kv.CommitAll,
		},
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Namespace == "" {
		c.Namespace = "strata"
	}
}
