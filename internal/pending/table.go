// Package pending implements the per-worker-type ordered table of in-flight
// messages: the sole durable state the supervisor keeps during a run.
package pending

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
)

// Entry is one tracked message, annotated with when it was queued.
type Entry struct {
	MessageID  string
	Envelope   *envelope.Envelope
	EnqueuedAt time.Time
}

// Store is the optional durability hook a Table mirrors its mutations to.
// It mirrors the shape of core/mdp's PersistenceStore: string keys in,
// structured records out, no transactional guarantee beyond best-effort
// crash recovery.
type Store interface {
	Put(workerType string, e Entry) error
	Delete(workerType, messageID string) error
	List(workerType string) ([]Entry, error)
	Close() error
}

// Table is a mapping from worker type to its ordered list of in-flight
// envelopes. It is the supervisor's sole piece of durable-during-a-run
// state. Its mutex makes every method safe for concurrent use: routing
// calls arrive from several pump goroutines and may overlap with
// replay/drain.
type Table struct {
	mu      sync.Mutex
	byType  map[string][]*Entry
	byMsgID map[string]map[string]*Entry // workerType -> messageId -> entry
	store   Store
}

// NewTable creates an empty pending table, optionally backed by a durable
// Store that mutations are mirrored to.
func NewTable(store Store) *Table {
	return &Table{
		byType:  make(map[string][]*Entry),
		byMsgID: make(map[string]map[string]*Entry),
		store:   store,
	}
}

// Track appends env to workerType's list iff no entry with the same
// MessageID already exists there. De-duplication is by MessageID alone.
func (t *Table) Track(workerType string, env *envelope.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byMsgID[workerType] == nil {
		t.byMsgID[workerType] = make(map[string]*Entry)
	}
	if _, exists := t.byMsgID[workerType][env.MessageID]; exists {
		log.WithFields(log.Fields{
			"worker_type": workerType,
			"message_id":  env.MessageID,
		}).Debug("pending: duplicate track ignored")
		return
	}

	entry := &Entry{MessageID: env.MessageID, Envelope: env, EnqueuedAt: time.Now()}
	t.byType[workerType] = append(t.byType[workerType], entry)
	t.byMsgID[workerType][env.MessageID] = entry

	if t.store != nil {
		if err := t.store.Put(workerType, *entry); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"worker_type": workerType,
				"message_id":  env.MessageID,
			}).Warn("pending: failed to persist tracked entry")
		}
	}
}

// Remove deletes any entry matching messageID under workerType. It is a
// no-op if absent.
func (t *Table) Remove(workerType, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(workerType, messageID)
}

func (t *Table) removeLocked(workerType, messageID string) {
	ids := t.byMsgID[workerType]
	if ids == nil {
		return
	}
	if _, ok := ids[messageID]; !ok {
		return
	}
	delete(ids, messageID)

	list := t.byType[workerType]
	for i, e := range list {
		if e.MessageID == messageID {
			t.byType[workerType] = append(list[:i], list[i+1:]...)
			break
		}
	}

	if t.store != nil {
		if err := t.store.Delete(workerType, messageID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"worker_type": workerType,
				"message_id":  messageID,
			}).Warn("pending: failed to delete persisted entry")
		}
	}
}

// RemoveAllForMessage removes messageID from every worker type's list. Used
// when a completion ack must close out a message across every destination
// the original outbound envelope fanned out to, not only the one replying.
func (t *Table) RemoveAllForMessage(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for workerType := range t.byMsgID {
		t.removeLocked(workerType, messageID)
	}
}

// Drain returns a snapshot of workerType's current list for iteration. It
// does not mutate the table; removal is driven solely by completion acks.
func (t *Table) Drain(workerType string) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byType[workerType]
	snapshot := make([]*Entry, len(list))
	copy(snapshot, list)
	return snapshot
}

// Len reports how many messages are currently pending for workerType.
func (t *Table) Len(workerType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byType[workerType])
}

// Restore rehydrates the table from a durable Store at supervisor startup,
// for every worker type named, ordering each type's entries by EnqueuedAt.
func (t *Table) Restore(workerTypes []string) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, wt := range workerTypes {
		entries, err := t.store.List(wt)
		if err != nil {
			return err
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		})
		for i := range entries {
			e := entries[i]
			if t.byMsgID[wt] == nil {
				t.byMsgID[wt] = make(map[string]*Entry)
			}
			t.byType[wt] = append(t.byType[wt], &e)
			t.byMsgID[wt][e.MessageID] = &e
		}
		if len(entries) > 0 {
			log.WithFields(log.Fields{"worker_type": wt, "count": len(entries)}).Info("pending: restored entries from durable store")
		}
	}
	return nil
}
