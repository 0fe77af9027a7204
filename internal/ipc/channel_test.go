package ipc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/fleet/internal/envelope"
)

func TestSendRecvRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)

	in := &envelope.Envelope{
		MessageID:   "m1",
		Status:      envelope.StatusCompleted,
		Destination: []string{"supervisor"},
	}
	require.NoError(t, c.Send(in))

	out, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, in.MessageID, out.MessageID)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.Destination, out.Destination)
}

func TestSendRecvMultipleFramesOrdered(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(&envelope.Envelope{MessageID: string(rune('a' + i)), Status: envelope.StatusCompleted, Destination: []string{"supervisor"}}))
	}

	for i := 0; i < 5; i++ {
		out, err := c.Recv()
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i)), out.MessageID)
	}
}

func TestRecvEOF(t *testing.T) {
	r, w := io.Pipe()
	c := New(r, nil)
	w.Close()
	_, err := c.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0x7f, 0xff, 0xff, 0xff} // ~2GB, exceeds maxFrameSize
	buf.Write(header)
	c := New(&buf, nil)
	_, err := c.Recv()
	assert.Error(t, err)
}
