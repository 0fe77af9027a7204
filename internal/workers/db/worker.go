// Package db implements the DatabaseWorker reference worker: persists
// project documents via gorm/postgres and answers lookups by ID. It is
// the "MongoDB persistence layer" named out of scope by §1, reworked onto
// a relational store the way the teacher's own services use gorm.
package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/worker"
)

// Project is the persisted document shape scenario (a) describes.
type Project struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Keyword         string    `json:"keyword"`
	Category        string    `json:"category"`
	Language        string    `json:"language"`
	TweetToken      string    `json:"tweetToken"`
	StartDateCrawl  string    `json:"start_date_crawl"`
	EndDateCrawl    string    `json:"end_date_crawl"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Config is the subset of the worker-type descriptor's config map this
// worker understands (§6).
type Config struct {
	DBURL          string
	DBName         string
	CollectionName string
}

// Worker wraps a gorm connection and registers its handlers on a Runtime.
type Worker struct {
	db *gorm.DB
}

// Open connects to Postgres using cfg and auto-migrates the Project table.
func Open(cfg Config) (*Worker, error) {
	gormLog := gormlogger.Default.LogMode(gormlogger.Warn)
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("db worker: connect to %s: %w", cfg.DBURL, err)
	}
	return newWithDB(db)
}

// newWithDB auto-migrates the Project table on an already-open connection.
// Exercised directly by tests against an in-memory sqlite database, since
// the worker's logic is independent of the underlying gorm dialect.
func newWithDB(db *gorm.DB) (*Worker, error) {
	if err := db.AutoMigrate(&Project{}); err != nil {
		return nil, fmt.Errorf("db worker: auto-migrate: %w", err)
	}
	return &Worker{db: db}, nil
}

// Register wires this worker's operations onto rt's handler table:
// createNewData (scenario a) and getDataById (scenario f).
func (w *Worker) Register(rt *worker.Runtime) {
	rt.Handle("createNewData", w.createNewData)
	rt.Handle("getDataById", w.getDataByID)
}

// createNewData inserts a new project (generating its ID when the payload
// carries none) and replies with destinations for both the front-end and
// the queue worker, per §2's control-flow example.
func (w *Worker) createNewData(arg string, env *envelope.Envelope) (*envelope.Envelope, error) {
	var input Project
	if err := json.Unmarshal(env.Data, &input); err != nil {
		return nil, fmt.Errorf("decode project payload: %w", err)
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	input.CreatedAt = time.Now()

	if err := w.db.Create(&input).Error; err != nil {
		log.WithError(err).Error("db worker: insert failed")
		return nil, fmt.Errorf("insert project: %w", err)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode created project: %w", err)
	}

	return &envelope.Envelope{
		MessageID: env.MessageID,
		Status:    envelope.StatusCompleted,
		Destination: []string{
			"HttpWorker/onProcessedMessage",
			"QueueWorker/produceMessage",
		},
		Data: data,
	}, nil
}

// getDataByID answers the federated reference-resolution lookup (scenario
// f): arg is the project ID, and the reply routes back to GraphqlWorker.
func (w *Worker) getDataByID(arg string, env *envelope.Envelope) (*envelope.Envelope, error) {
	if arg == "" {
		return &envelope.Envelope{
			MessageID:   env.MessageID,
			Status:      envelope.StatusFailed,
			Reason:      envelope.ReasonNoData,
			Destination: []string{"GraphqlWorker/onProcessedMessage"},
		}, nil
	}

	var p Project
	err := w.db.First(&p, "id = ?", arg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return &envelope.Envelope{
				MessageID:   env.MessageID,
				Status:      envelope.StatusFailed,
				Reason:      envelope.ReasonNoData,
				Destination: []string{"GraphqlWorker/onProcessedMessage"},
			}, nil
		}
		return nil, fmt.Errorf("lookup project %s: %w", arg, err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode project %s: %w", arg, err)
	}

	return &envelope.Envelope{
		MessageID:   env.MessageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{"GraphqlWorker/onProcessedMessage"},
		Data:        data,
	}, nil
}
