package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTLastIndex  QueryType = iota // Retrieve the last appended log index.
	QueryTFirstIndex                  // Retrieve the index of the first held entry.
	QueryTHeldCount                   // Retrieve the number of held entries.
)

func (q QueryType) String() string {
	switch q {
	case QueryTLastIndex:
		return "LastIndex"
	case QueryTFirstIndex:
		return "FirstIndex"
	case QueryTHeldCount:
		return "HeldCount"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// All query results are uint64.
type Query struct {
	Type QueryType
}
