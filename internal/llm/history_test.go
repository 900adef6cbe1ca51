package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecordTrimsToLimit(t *testing.T) {
	h := NewHistory(4)
	h.Record("q1", "a1")
	h.Record("q2", "a2")
	h.Record("q3", "a3")

	msgs := h.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, Message{Role: RoleUser, Text: "q2"}, msgs[0])
	assert.Equal(t, Message{Role: RoleModel, Text: "a3"}, msgs[3])
}

func TestHistoryOddLimitStartsWithUser(t *testing.T) {
	h := NewHistory(3)
	h.Record("q1", "a1")
	h.Record("q2", "a2")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "q2", msgs[0].Text)
}

func TestHistoryZeroLimitKeepsNothing(t *testing.T) {
	h := NewHistory(0)
	h.Record("q", "a")
	assert.Empty(t, h.Messages())
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	acc.Add(Chunk{Text: "Hel"})
	acc.Add(Chunk{Text: "lo"})
	assert.Equal(t, "Hello", acc.String())
}

func TestHistorySkipsEmptyReply(t *testing.T) {
	h := NewHistory(10)
	h.Record("q1", "a1")
	h.Record("blocked", "")
	h.Record("draw", "  \n")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "q1", msgs[0].Text)
	assert.Equal(t, "a1", msgs[1].Text)
}
