// Package graphql implements the GraphqlWorker reference worker: a
// federated-entity-style Project resolver that looks up a project by ID
// through the envelope fabric rather than a local data store, using
// github.com/graph-gophers/graphql-go the way a schema-first Go GraphQL
// server is normally wired (no pack repo runs a GraphQL server, so this is
// grounded in the library's documented usage rather than an example file).
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/worker"
)

// replyWaitTimeout bounds how long a resolver blocks waiting for the
// database worker's asynchronous reply.
const replyWaitTimeout = 10 * time.Second

// Config is the subset of GraphqlWorker's descriptor config this worker
// understands (§6).
type Config struct {
	Port      string
	JWTSecret string
}

const schemaString = `
	schema {
		query: Query
	}

	type Query {
		project(id: ID!): Project
	}

	type Project {
		id: ID!
		title: String!
		description: String!
		keyword: String!
		category: String!
		language: String!
	}
`

// projectRecord is the shape DatabaseWorker.getDataById replies with.
type projectRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Keyword     string `json:"keyword"`
	Category    string `json:"category"`
	Language    string `json:"language"`
}

// envelopeSender is the narrow slice of worker.Runtime this package needs,
// letting tests substitute a fake instead of wiring a real channel.
type envelopeSender interface {
	Send(env *envelope.Envelope)
}

// Worker owns the resolver's correlation state and exposes the parsed
// GraphQL schema via Handler.
type Worker struct {
	rt envelopeSender

	mu      sync.Mutex
	waiters map[string]chan *envelope.Envelope
}

// New builds a GraphqlWorker.
func New(cfg Config) *Worker {
	return &Worker{waiters: make(map[string]chan *envelope.Envelope)}
}

// Register wires this worker's envelope-side handler onto rt.
func (w *Worker) Register(rt *worker.Runtime) {
	w.rt = rt
	rt.Handle("onProcessedMessage", w.onProcessedMessage)
}

func (w *Worker) onProcessedMessage(arg string, env *envelope.Envelope) (*envelope.Envelope, error) {
	w.mu.Lock()
	ch, ok := w.waiters[env.MessageID]
	if ok {
		delete(w.waiters, env.MessageID)
	}
	w.mu.Unlock()

	if ok {
		ch <- env
	} else {
		log.WithFields(log.Fields{"message_id": env.MessageID}).Warn("graphqlworker: reply for unknown or expired request")
	}
	return envelope.Ack(env.MessageID, nil), nil
}

// Handler parses the schema against this worker as its root resolver and
// returns the relay HTTP handler serving it.
func (w *Worker) Handler() (*relay.Handler, error) {
	schema, err := graphql.ParseSchema(schemaString, &rootResolver{worker: w})
	if err != nil {
		return nil, fmt.Errorf("graphqlworker: parse schema: %w", err)
	}
	return &relay.Handler{Schema: schema}, nil
}

// rootResolver implements the Query type. Resolver methods dispatch
// lookups through the envelope fabric, implementing the federated entity
// resolution scenario (§8 scenario f, "__resolveReference") as a plain
// query field since this worker is not itself a federation gateway.
type rootResolver struct {
	worker *Worker
}

func (r *rootResolver) Project(ctx context.Context, args struct{ ID graphql.ID }) (*projectResolver, error) {
	env, err := r.worker.fetchByID(ctx, string(args.ID))
	if err != nil {
		return nil, err
	}
	if env.Status != envelope.StatusCompleted {
		return nil, nil
	}

	var rec projectRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return nil, fmt.Errorf("graphqlworker: decode project: %w", err)
	}
	return &projectResolver{rec: rec}, nil
}

type projectResolver struct {
	rec projectRecord
}

func (p *projectResolver) ID() graphql.ID { return graphql.ID(p.rec.ID) }
func (p *projectResolver) Title() string { return p.rec.Title }
func (p *projectResolver) Description() string { return p.rec.Description }
func (p *projectResolver) Keyword() string { return p.rec.Keyword }
func (p *projectResolver) Category() string { return p.rec.Category }
func (p *projectResolver) Language() string { return p.rec.Language }

// fetchByID emits DatabaseWorker/getDataById/<id> and blocks until
// onProcessedMessage correlates the reply back to it.
func (w *Worker) fetchByID(ctx context.Context, id string) (*envelope.Envelope, error) {
	messageID := uuid.NewString()
	ch := make(chan *envelope.Envelope, 1)
	w.mu.Lock()
	w.waiters[messageID] = ch
	w.mu.Unlock()

	w.rt.Send(&envelope.Envelope{
		MessageID:   messageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{"DatabaseWorker/getDataById/" + id},
	})

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(replyWaitTimeout):
		w.mu.Lock()
		delete(w.waiters, messageID)
		w.mu.Unlock()
		return nil, fmt.Errorf("graphqlworker: timed out waiting for database worker reply to %s", messageID)
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.waiters, messageID)
		w.mu.Unlock()
		return nil, ctx.Err()
	}
}
