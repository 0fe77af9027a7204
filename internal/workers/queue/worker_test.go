package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/workers/db"
)

func TestProduceMessagePublishesEncodedEvent(t *testing.T) {
	var gotQueue string
	var gotBody []byte

	w := &Worker{cfg: Config{ProduceQueue: "project.events"}}
	w.publish = func(queueName string, body []byte) error {
		gotQueue = queueName
		gotBody = body
		return nil
	}

	evt := ProjectEvent{ProjectID: "p1", Keyword: "k", Language: "en"}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	env := &envelope.Envelope{MessageID: "m1", Destination: []string{"QueueWorker/produceMessage"}, Data: data}
	reply, err := w.produceMessage("", env)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, reply.Status)
	assert.Equal(t, "project.events", gotQueue)

	var roundTripped ProjectEvent
	require.NoError(t, json.Unmarshal(gotBody, &roundTripped))
	assert.Equal(t, evt, roundTripped)
}

// TestProduceMessageDecodesDatabaseWorkerReply drives the exact Data shape
// createNewData replies with (db.Project, tagged "id") through
// produceMessage, the real control-flow path, rather than a pre-shaped
// ProjectEvent that would mask a tag mismatch between the two structs.
func TestProduceMessageDecodesDatabaseWorkerReply(t *testing.T) {
	var gotBody []byte
	w := &Worker{cfg: Config{ProduceQueue: "project.events"}}
	w.publish = func(_ string, body []byte) error {
		gotBody = body
		return nil
	}

	project := db.Project{
		ID:         "p1",
		Keyword:    "golang",
		Language:   "en",
		TweetToken: "tok",
		CreatedAt:  time.Now(),
	}
	data, err := json.Marshal(project)
	require.NoError(t, err)

	env := &envelope.Envelope{MessageID: "m4", Data: data}
	_, err = w.produceMessage("", env)
	require.NoError(t, err)

	var evt ProjectEvent
	require.NoError(t, json.Unmarshal(gotBody, &evt))
	assert.Equal(t, "p1", evt.ProjectID)
	assert.Equal(t, "golang", evt.Keyword)
}

func TestProduceMessagePropagatesPublishError(t *testing.T) {
	w := &Worker{cfg: Config{ProduceQueue: "project.events"}}
	w.publish = func(string, []byte) error { return errors.New("broker unreachable") }

	env := &envelope.Envelope{MessageID: "m2", Data: json.RawMessage(`{}`)}
	_, err := w.produceMessage("", env)
	assert.Error(t, err)
}

func TestProduceMessageRejectsMalformedPayload(t *testing.T) {
	w := &Worker{cfg: Config{ProduceQueue: "project.events"}}
	w.publish = func(string, []byte) error { return nil }

	env := &envelope.Envelope{MessageID: "m3", Data: json.RawMessage(`not-json`)}
	_, err := w.produceMessage("", env)
	assert.Error(t, err)
}

func TestConsumeRejectsEmptyQueueName(t *testing.T) {
	w := &Worker{}
	err := w.consume("", func([]byte) error { return nil })
	assert.Error(t, err)
}
