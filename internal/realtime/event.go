package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Op is the kind of row change.
type Op string

// Supported row operations.
const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ParseOp normalizes an operation name such as "insert" or "UPDATE".
func ParseOp(raw string) (Op, error) {
	switch Op(strings.ToUpper(strings.TrimSpace(raw))) {
	case OpInsert:
		return OpInsert, nil
	case OpUpdate:
		return OpUpdate, nil
	case OpDelete:
		return OpDelete, nil
	default:
		return "", fmt.Errorf("unknown change op %q", raw)
	}
}

// ChangeEvent reports one row-level change in a table.
type ChangeEvent struct {
	// Table is the source table, e.g. crawl_jobs.
	Table string `json:"table"`
	// Op is INSERT, UPDATE or DELETE.
	Op Op `json:"op"`
	// RecordID optionally identifies the changed row.
	RecordID string `json:"id,omitempty"`
	// At is when the producer observed the change.
	At time.Time `json:"at"`
}

// Validate performs coarse validation on event payloads.
func (e ChangeEvent) Validate() error {
	if strings.TrimSpace(e.Table) == "" {
		return errors.New("table is required")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	return nil
}

// Publisher accepts change events from producers.
type Publisher interface {
	Publish(evt ChangeEvent)
}

// Subscriber opens per-table change subscriptions.
type Subscriber interface {
	Subscribe(table string) (*Subscription, error)
}

type changePayload struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	Type  string    `json:"type"`
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
}

// DecodeChange parses the JSON notification body shared by every producer:
// {"table": "...", "op": "INSERT", "id": "..."}. "type" is accepted as an
// alias for "op".
func DecodeChange(data []byte) (ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}
	return newEvent(p.Table, firstNonEmpty(p.Op, p.Type), p.ID, p.At)
}

// DecodeAttributes builds an event from string attributes (table, op, id).
func DecodeAttributes(attrs map[string]string) (ChangeEvent, error) {
	return newEvent(attrs["table"], firstNonEmpty(attrs["op"], attrs["type"]), attrs["id"], time.Time{})
}

func newEvent(table, rawOp, id string, at time.Time) (ChangeEvent, error) {
	op, err := ParseOp(rawOp)
	if err != nil {
		return ChangeEvent{}, err
	}
	evt := ChangeEvent{Table: table, Op: op, RecordID: id, At: at}
	if err := evt.Validate(); err != nil {
		return ChangeEvent{}, fmt.Errorf("invalid change event: %w", err)
	}
	return evt, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
