package kv

// ExistsAction tells the store whether a write must create, must update, or
// may do either.
type ExistsAction int

const (
	// ExistsUpsert creates the record if absent, updates it otherwise.
	ExistsUpsert ExistsAction = iota

	// ExistsCreateOnly fails with KeyExists if the record already exists.
	ExistsCreateOnly

	// ExistsUpdateOnly fails with KeyNotFound if the record does not exist.
	ExistsUpdateOnly
)

func (a ExistsAction) String() string {
	switch a {
	case ExistsUpsert:
		return "upsert"
	case ExistsCreateOnly:
		return "create-only"
	case ExistsUpdateOnly:
		return "update-only"
	default:
		return "unknown"
	}
}

// GenerationPolicy tells the store whether to compare the caller's expected
// generation against the stored one before applying a write.
type GenerationPolicy int

const (
	// GenIgnore applies the write regardless of the stored generation.
	GenIgnore GenerationPolicy = iota

	// GenEqual applies the write only when the stored generation equals
	// WritePolicy.Generation, failing with GenerationMismatch otherwise.
	GenEqual
)

func (p GenerationPolicy) String() string {
	switch p {
	case GenIgnore:
		return "ignore"
	case GenEqual:
		return "equal"
	default:
		return "unknown"
	}
}

// CommitLevel selects how many replicas must acknowledge a write.
type CommitLevel int

const (
	// CommitAll waits for all replicas.
	CommitAll CommitLevel = iota

	// CommitMaster waits for the master replica only.
	CommitMaster
)

// WritePolicy carries the concurrency and existence directives for one write,
// plus the baseline directives every write inherits from configuration.
type WritePolicy struct {
	// Exists is the existence directive.
	Exists ExistsAction

	// Gen is the concurrency directive.
	Gen GenerationPolicy

	// Generation is the expected stored generation when Gen is GenEqual.
	Generation int64

	// Commit is the replica acknowledgement level.
	Commit CommitLevel

	// DurableDelete asks the store to persist a tombstone on delete instead
	// of dropping the record from memory only.
	DurableDelete bool

	// SendKey stores the original user key alongside the record so it
	// round-trips in fetches.
	SendKey bool

	// TTLSeconds sets the record's time to live, 0 for no expiry.
	TTLSeconds int64
}
