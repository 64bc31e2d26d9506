package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteraction_DragLifecycle(t *testing.T) {
	in := NewInteraction()
	assert.Equal(t, StateIdle, in.State())

	require.NoError(t, in.PointerDown("a"))
	assert.Equal(t, StateSelected, in.ItemState("a"))

	require.NoError(t, in.BeginDrag())
	assert.Equal(t, StateDragging, in.ItemState("a"))
	assert.Equal(t, StateIdle, in.ItemState("b"))

	id, gesture, err := in.End()
	require.NoError(t, err)
	assert.Equal(t, ItemID("a"), id)
	assert.Equal(t, StateDragging, gesture)
	assert.Equal(t, StateSelected, in.State())

	in.Background()
	_, active := in.Active()
	assert.False(t, active)
}

func TestInteraction_ResizeLifecycle(t *testing.T) {
	in := NewInteraction()
	require.NoError(t, in.PointerDown("a"))
	require.NoError(t, in.BeginResize())

	_, gesture, err := in.End()
	require.NoError(t, err)
	assert.Equal(t, StateResizing, gesture)
}

func TestInteraction_InvalidTransitions(t *testing.T) {
	in := NewInteraction()
	assert.ErrorIs(t, in.BeginDrag(), ErrInvalidTransition)
	assert.ErrorIs(t, in.BeginResize(), ErrInvalidTransition)
	_, _, err := in.End()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, in.PointerDown("a"))
	require.NoError(t, in.BeginDrag())
	assert.ErrorIs(t, in.BeginResize(), ErrInvalidTransition)
	assert.ErrorIs(t, in.PointerDown("b"), ErrInvalidTransition)
}

func TestInteraction_SwitchSelection(t *testing.T) {
	in := NewInteraction()
	require.NoError(t, in.PointerDown("a"))
	require.NoError(t, in.PointerDown("b"))

	id, ok := in.Active()
	require.True(t, ok)
	assert.Equal(t, ItemID("b"), id)
}

func TestInteraction_RemoveIsTerminal(t *testing.T) {
	in := NewInteraction()
	require.NoError(t, in.PointerDown("a"))
	require.NoError(t, in.BeginDrag())

	in.Remove("a")
	assert.Equal(t, StateIdle, in.State())
	assert.Equal(t, StateRemoved, in.ItemState("a"))
	assert.ErrorIs(t, in.PointerDown("a"), ErrItemRemoved)
}

func TestInteraction_ForgetKeepsOthers(t *testing.T) {
	in := NewInteraction()
	require.NoError(t, in.PointerDown("a"))

	in.Forget("b")
	assert.Equal(t, StateSelected, in.State())

	in.Forget("a")
	assert.Equal(t, StateIdle, in.State())
	assert.NoError(t, in.PointerDown("a"))
}
