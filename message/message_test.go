package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandWireWords(t *testing.T) {
	cases := map[Command]string{
		CmdMessage:      "message",
		CmdMessageError: "message_error",
		CmdGet:          "get",
		CmdSet:          "set",
		CmdResult:       "result",
		CmdQueryError:   "query_error",
	}
	for cmd, word := range cases {
		assert.Equal(t, word, cmd.String())

		parsed, ok := ParseCommand(word)
		require.True(t, ok, word)
		assert.Equal(t, cmd, parsed)
	}

	_, ok := ParseCommand("MESSAGE")
	assert.False(t, ok, "commands are case-sensitive")
	_, ok = ParseCommand("ping")
	assert.False(t, ok)
}

func TestCommandShape(t *testing.T) {
	assert.False(t, CmdMessage.HasID())
	assert.False(t, CmdMessageError.HasID())
	assert.True(t, CmdGet.HasID())
	assert.True(t, CmdQueryError.HasID())

	assert.True(t, CmdMessageError.HasError())
	assert.True(t, CmdQueryError.HasError())
	assert.False(t, CmdResult.HasError())

	assert.True(t, CmdSet.IsRequest())
	assert.True(t, CmdResult.IsResponse())
	assert.False(t, CmdMessage.IsRequest())
}

func TestError(t *testing.T) {
	err := NewError(ErrorCancel, GroupItemNotFound, "no actor at bob@host")
	assert.Equal(t, "cancel: item-not-found: no actor at bob@host", err.Error())
	assert.False(t, err.Temporary())

	assert.Equal(t, "wait: resource-constraint", NewError(ErrorWait, GroupResourceConstraint, "").Error())
	assert.True(t, NewError(ErrorWait, GroupResourceConstraint, "").Temporary())
}
