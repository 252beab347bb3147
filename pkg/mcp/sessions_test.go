package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("proj-a", "session-abc")
	sid, ok := r.SessionFor("proj-a")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("proj-a", "session-old")
	r.Register("proj-a", "session-new")

	sid, ok := r.SessionFor("proj-a")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("proj-a", "session-abc")
	r.Register("proj-b", "session-abc")
	r.Register("proj-c", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("proj-a")
	assert.False(t, ok, "proj-a should be removed")

	_, ok = r.SessionFor("proj-b")
	assert.False(t, ok, "proj-b should be removed")

	sid, ok := r.SessionFor("proj-c")
	assert.True(t, ok, "proj-c should still exist")
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionRegistry_MultipleProjects(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("proj-a", "session-1")
	r.Register("proj-b", "session-2")

	sid1, ok := r.SessionFor("proj-a")
	assert.True(t, ok)
	assert.Equal(t, "session-1", sid1)

	sid2, ok := r.SessionFor("proj-b")
	assert.True(t, ok)
	assert.Equal(t, "session-2", sid2)
}
