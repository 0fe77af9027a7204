// Package http implements the HttpWorker reference worker: a REST front
// end accepting project-creation requests, guarding them with bearer-JWT
// auth and a Redis idempotency cache, and correlating the envelope fabric's
// asynchronous replies back onto the blocked HTTP request that triggered
// them.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nelkinda/health-go"
	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/auth"
	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/idempotency"
	"github.com/taskforge/fleet/internal/worker"
)

// replyWaitTimeout bounds how long a create-project request blocks waiting
// for the database worker's asynchronous reply before failing the request.
const replyWaitTimeout = 10 * time.Second

// CreateProjectRequest is the POST / request body, matching scenario (a)'s
// example payload.
type CreateProjectRequest struct {
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	Keyword         string `json:"keyword"`
	Category        string `json:"category"`
	Language        string `json:"language"`
	TweetToken      string `json:"tweetToken"`
	StartDateCrawl  string `json:"start_date_crawl"`
	EndDateCrawl    string `json:"end_date_crawl"`
}

// Config is the subset of HttpWorker's descriptor config this worker
// understands (§6: port, jwt_secret).
type Config struct {
	Port      string
	JWTSecret string
}

// envelopeSender is the narrow slice of worker.Runtime this package needs,
// letting tests substitute a fake instead of wiring a real channel.
type envelopeSender interface {
	Send(env *envelope.Envelope)
}

// Worker is the HttpWorker reference implementation. It is deliberately
// Concurrent (per §5): many HTTP requests may be in flight at once, each
// correlated to its own outbound messageId rather than serialized behind
// a single busy flag.
type Worker struct {
	cfg      Config
	verifier *auth.Verifier
	idem     *idempotency.Cache
	validate *validator.Validate
	rt       envelopeSender

	mu      sync.Mutex
	waiters map[string]chan *envelope.Envelope
}

// New builds an HttpWorker. idem may be nil, in which case the idempotency
// check is skipped (useful for tests that don't stand up Redis).
func New(cfg Config, idem *idempotency.Cache) *Worker {
	return &Worker{
		cfg:      cfg,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		idem:     idem,
		validate: validator.New(),
		waiters:  make(map[string]chan *envelope.Envelope),
	}
}

// Register wires this worker's envelope-side handler (the reply
// correlation point) onto rt, and remembers rt so HTTP handlers can
// originate new envelopes.
func (w *Worker) Register(rt *worker.Runtime) {
	w.rt = rt
	rt.Handle("onProcessedMessage", w.onProcessedMessage)
}

// onProcessedMessage delivers env to whichever HTTP request is waiting on
// its messageId, if any, and acknowledges it to the supervisor either way.
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
		log.WithFields(log.Fields{"message_id": env.MessageID}).Warn("httpworker: reply for unknown or expired request")
	}
	return envelope.Ack(env.MessageID, nil), nil
}

// Engine builds the gin router serving POST / and the health endpoints.
func (w *Worker) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	h := health.New(health.Health{Version: "1", ReleaseID: "1.0.0"})
	r.GET("/health", gin.WrapF(h.Handler))

	r.POST("/", w.createProject)
	return r
}

func (w *Worker) createProject(c *gin.Context) {
	claims, err := w.verifier.ParseBearer(c.GetHeader("Authorization"))
	if err != nil || claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	idemKey := c.GetHeader("idempotent-key")
	if idemKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotent key required"})
		return
	}

	if w.idem != nil {
		if rec, err := w.idem.Get(c.Request.Context(), idemKey); err == nil {
			c.JSON(http.StatusAlreadyReported, gin.H{"message": "Operation already processed", "body": json.RawMessage(rec.Body)})
			return
		} else if err != idempotency.ErrNotFound {
			log.WithError(err).Error("httpworker: idempotency lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
	}

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := w.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := w.dispatchCreate(c.Request.Context(), req)
	if err != nil {
		log.WithError(err).Error("httpworker: create project failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	if w.idem != nil {
		_ = w.idem.Put(c.Request.Context(), idemKey, idempotency.Record{StatusCode: http.StatusCreated, Body: reply.Data})
	}

	c.Data(http.StatusCreated, "application/json", reply.Data)
}

// dispatchCreate emits a createNewData envelope and blocks until
// onProcessedMessage correlates the database worker's reply back to it.
func (w *Worker) dispatchCreate(ctx context.Context, req CreateProjectRequest) (*envelope.Envelope, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode create-project payload: %w", err)
	}

	messageID := uuid.NewString()
	ch := make(chan *envelope.Envelope, 1)
	w.mu.Lock()
	w.waiters[messageID] = ch
	w.mu.Unlock()

	w.rt.Send(&envelope.Envelope{
		MessageID:   messageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{"DatabaseWorker/createNewData"},
		Data:        data,
	})

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(replyWaitTimeout):
		w.mu.Lock()
		delete(w.waiters, messageID)
		w.mu.Unlock()
		return nil, fmt.Errorf("timed out waiting for database worker reply to %s", messageID)
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.waiters, messageID)
		w.mu.Unlock()
		return nil, ctx.Err()
	}
}
