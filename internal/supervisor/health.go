package supervisor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the ingestion service lifecycle state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	// StatusFailed is terminal: the circuit breaker has tripped and no
	// further automatic restarts occur.
	StatusFailed Status = "failed"
	// StatusStopped is terminal: graceful shutdown.
	StatusStopped Status = "stopped"
)

// HealthRecord is the service health contract exposed to external health
// checks through the store. Only the supervisor writes it.
type HealthRecord struct {
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	RestartCount int       `json:"restart_count"`
	Symbols      []string  `json:"symbols"`
}

// Encode serializes the health record for storage.
func (h HealthRecord) Encode() (string, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal health record: %w", err)
	}
	return string(raw), nil
}

// DecodeHealthRecord parses a stored health record.
func DecodeHealthRecord(raw string) (HealthRecord, error) {
	var h HealthRecord
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return HealthRecord{}, fmt.Errorf("unmarshal health record: %w", err)
	}
	return h, nil
}
