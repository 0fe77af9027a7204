// Package envelope defines the single in-transit record exchanged between
// the supervisor and every worker process, and the destination grammar used
// to route it.
package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Status is the terminal or informational state carried by an Envelope.
type Status string

// Known envelope statuses.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusHealthy   Status = "healthy"
)

// ReasonServerBusy is the well-known reason code a worker replies with when
// it declines a message because it is already processing one.
const ReasonServerBusy = "SERVER_BUSY"

// ReasonNoData is a well-known reason code for an empty-result reply.
const ReasonNoData = "NO_DATA"

// Supervisor is the literal destination that routes to the coordinator
// itself rather than to a peer worker.
const Supervisor = "supervisor"

var workerTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Envelope is the serializable record carrying messageId, status, reason,
// destination, and data. Field names are fixed by the wire contract and
// must round-trip through JSON unchanged.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Destination []string        `json:"destination"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Validate checks the invariants from the data model: messageId is
// non-empty, and a healthy envelope carries no destination other than
// supervisor.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("envelope: messageId must not be empty")
	}
	if e.Status == StatusHealthy {
		if len(e.Destination) > 1 || (len(e.Destination) == 1 && e.Destination[0] != Supervisor) {
			return fmt.Errorf("envelope: healthy status must target only %q, got %v", Supervisor, e.Destination)
		}
	}
	for _, d := range e.Destination {
		if _, _, err := ParseDestination(d); err != nil {
			return fmt.Errorf("envelope: %w", err)
		}
	}
	return nil
}

// IsAckFor reports whether this envelope has status completed and carries
// messageID. It does not look at the destination list; the router only
// clears pending entries for completed envelopes addressed to "supervisor".
func (e *Envelope) IsAckFor(messageID string) bool {
	return e.Status == StatusCompleted && e.MessageID == messageID
}

// WithSingleDestination returns a shallow copy of the envelope with its
// destination replaced by a single entry, used by the router when it fans a
// multi-destination envelope out to independent routing decisions.
func (e *Envelope) WithSingleDestination(dest string) *Envelope {
	cp := *e
	cp.Destination = []string{dest}
	return &cp
}

// ParseDestination splits a destination string into its worker-type prefix
// and the opaque remainder (method/arg segments), per the grammar:
//
//	destination := "supervisor" | WorkerType ("/" Segment)*
//
// The remainder is returned without the leading slash, e.g.
// "DatabaseWorker/getDataById/X" -> ("DatabaseWorker", "getDataById/X", nil).
func ParseDestination(dest string) (workerType string, remainder string, err error) {
	if dest == "" {
		return "", "", fmt.Errorf("empty destination")
	}
	if dest == Supervisor {
		return Supervisor, "", nil
	}
	idx := strings.IndexByte(dest, '/')
	if idx < 0 {
		workerType = dest
	} else {
		workerType = dest[:idx]
		remainder = dest[idx+1:]
	}
	if !workerTypePattern.MatchString(workerType) {
		return "", "", fmt.Errorf("invalid worker type in destination %q", dest)
	}
	return workerType, remainder, nil
}

// Segments splits a destination remainder (as returned by ParseDestination)
// into method and optional argument, e.g. "getDataById/X" -> ("getDataById",
// "X"). A remainder with no argument returns an empty arg.
func Segments(remainder string) (method string, arg string) {
	idx := strings.IndexByte(remainder, '/')
	if idx < 0 {
		return remainder, ""
	}
	return remainder[:idx], remainder[idx+1:]
}

// Ack builds a terminal "completed" envelope addressed only at supervisor,
// the canonical shape a worker emits to close out a unit of work that has no
// further hop.
func Ack(messageID string, data json.RawMessage) *Envelope {
	return &Envelope{
		MessageID:   messageID,
		Status:      StatusCompleted,
		Destination: []string{Supervisor},
		Data:        data,
	}
}

// Busy builds the SERVER_BUSY back-pressure reply a worker sends when it is
// already processing a task and cannot accept another.
func Busy(messageID string) *Envelope {
	return &Envelope{
		MessageID:   messageID,
		Status:      StatusFailed,
		Reason:      ReasonServerBusy,
		Destination: []string{Supervisor},
	}
}

// Heartbeat builds the periodic health beat every worker emits.
func Heartbeat(data json.RawMessage) *Envelope {
	return &Envelope{
		MessageID:   "heartbeat",
		Status:      StatusHealthy,
		Destination: []string{Supervisor},
		Data:        data,
	}
}

// Errorf builds a non-recoverable error envelope a worker emits right
// before it exits, so the supervisor restarts it and replays pending work.
func Errorf(messageID, reason string) *Envelope {
	return &Envelope{
		MessageID:   messageID,
		Status:      StatusError,
		Reason:      reason,
		Destination: []string{Supervisor},
	}
}
