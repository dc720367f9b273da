package store

// Key layout shared with the read endpoints and export jobs. Readers must
// treat a missing key as "no current data", never as an error.
const (
	// OAuthStatePrefix + state holds a single-use authorization marker.
	OAuthStatePrefix = "oauth:state:"
	// TokenKey holds the serialized current token record for the session.
	TokenKey = "oauth:token:current"
	// TickPrefix + symbol holds the latest serialized tick for a symbol.
	TickPrefix = "fx:"
	// HistoryPrefix + symbol holds the bounded recent-tick list for a symbol.
	HistoryPrefix = "ticks:"
	// StatusKey holds the ingestion service health record.
	StatusKey = "service:ingestion:status"
	// HeartbeatKey holds the ingestion service liveness timestamp.
	HeartbeatKey = "service:ingestion:heartbeat"
)

// TickKey returns the latest-tick key for a symbol.
func TickKey(symbol string) string { return TickPrefix + symbol }

// HistoryKey returns the recent-history list key for a symbol.
func HistoryKey(symbol string) string { return HistoryPrefix + symbol }

// StateKey returns the single-use authorization state key.
func StateKey(state string) string { return OAuthStatePrefix + state }
