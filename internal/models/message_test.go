package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIsPending(t *testing.T) {
	assert.True(t, (&Message{Role: RoleAI, Content: PendingContent}).IsPending())
	assert.False(t, (&Message{Role: RoleUser, Content: PendingContent}).IsPending(), "user text that looks like the sentinel is not pending")
	assert.False(t, (&Message{Role: RoleAI, Content: "done"}).IsPending())
	assert.False(t, (*Message)(nil).IsPending())
}

func TestHasPendingAndLastPending(t *testing.T) {
	msgs := []*Message{
		{ID: "1", Role: RoleUser, Content: "hi"},
		{ID: "2", Role: RoleAI, Content: "hello"},
		{ID: "3", Role: RoleUser, Content: "again"},
		{ID: "4", Role: RoleAI, Content: PendingContent},
	}
	assert.True(t, HasPending(msgs))
	assert.Equal(t, "4", LastPending(msgs).ID)
	assert.Equal(t, MessageStatePending, msgs[3].State())
	assert.Equal(t, MessageStateResolved, msgs[1].State())

	msgs[3].Content = "reply"
	assert.False(t, HasPending(msgs))
	assert.Nil(t, LastPending(msgs))
	assert.False(t, (*SessionWithMessages)(nil).HasPending())
}
