package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleReactionAddsWhenAbsent(t *testing.T) {
	in := []Reaction{{UserID: 2, Type: ReactionLove}}

	out, change := ToggleReaction(in, 1, ReactionLike)

	assert.Equal(t, ReactionAdded, change)
	assert.Equal(t, []Reaction{{UserID: 2, Type: ReactionLove}, {UserID: 1, Type: ReactionLike}}, out)
	assert.Len(t, in, 1, "input must not be modified")
}

func TestToggleReactionSameKindRemoves(t *testing.T) {
	in := []Reaction{{UserID: 1, Type: ReactionLike}, {UserID: 2, Type: ReactionSad}}

	out, change := ToggleReaction(in, 1, ReactionLike)

	assert.Equal(t, ReactionRemoved, change)
	assert.Equal(t, []Reaction{{UserID: 2, Type: ReactionSad}}, out)
}

func TestToggleReactionDifferentKindReplacesInPlace(t *testing.T) {
	in := []Reaction{{UserID: 1, Type: ReactionLike}, {UserID: 2, Type: ReactionSad}}

	out, change := ToggleReaction(in, 1, ReactionWow)

	assert.Equal(t, ReactionReplaced, change)
	assert.Equal(t, []Reaction{{UserID: 1, Type: ReactionWow}, {UserID: 2, Type: ReactionSad}}, out)
	assert.Equal(t, ReactionLike, in[0].Type)
}

func TestToggleReactionTwiceReturnsToEmpty(t *testing.T) {
	out, _ := ToggleReaction(nil, 1, ReactionLike)
	out, change := ToggleReaction(out, 1, ReactionLike)

	assert.Equal(t, ReactionRemoved, change)
	assert.Empty(t, out)
}

func TestToggleReactionCollapsesDuplicates(t *testing.T) {
	in := []Reaction{{UserID: 1, Type: ReactionLike}, {UserID: 1, Type: ReactionLove}}

	out, change := ToggleReaction(in, 1, ReactionSad)

	assert.Equal(t, ReactionReplaced, change)
	assert.Equal(t, []Reaction{{UserID: 1, Type: ReactionSad}}, out)
}

func TestIsValidReaction(t *testing.T) {
	for _, kind := range []string{"like", "love", "laugh", "wow", "angry", "sad"} {
		assert.True(t, IsValidReaction(kind), kind)
	}
	assert.False(t, IsValidReaction("thumbs"))
	assert.False(t, IsValidReaction(""))
}

func TestMessageHelpers(t *testing.T) {
	m := &Message{SenderID: 1, ReceiverID: 2, Text: "   "}
	assert.False(t, m.HasContent())
	m.Voice = "/uploads/a.webm"
	assert.True(t, m.HasContent())
}
