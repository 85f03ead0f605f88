package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/auth"
)

func testConn(clientID string) *Conn {
	c := &Conn{id: "test-" + clientID, alive: true}
	c.clientID = clientID
	return c
}

func newTestRegistry() *Registry {
	return NewRegistry(auth.NewDirectory(map[string]string{"alice": "pw", "bob": "pw"}))
}

func TestCreateRoom(t *testing.T) {
	r := newTestRegistry()
	alice := testConn("alice")

	require.NoError(t, r.CreateRoom("room1", alice))
	assert.Equal(t, 1, r.RoomCount())
	assert.Equal(t, "room1", alice.Room())

	members, isMember := r.Members("room1", alice)
	assert.True(t, isMember)
	assert.Len(t, members, 1)
}

func TestCreateRoomDuplicate(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.CreateRoom("room1", testConn("alice")))

	err := r.CreateRoom("room1", testConn("bob"))
	assert.ErrorIs(t, err, ErrRoomExists)
	assert.Equal(t, 1, r.RoomCount())
}

func TestJoinRoom(t *testing.T) {
	r := newTestRegistry()
	alice, bob := testConn("alice"), testConn("bob")

	require.NoError(t, r.CreateRoom("room1", alice))
	require.NoError(t, r.JoinRoom("room1", bob))

	members, isMember := r.Members("room1", bob)
	assert.True(t, isMember)
	require.Len(t, members, 2)
	// Join order is preserved.
	assert.Same(t, alice, members[0])
	assert.Same(t, bob, members[1])
}

func TestJoinRoomMissing(t *testing.T) {
	r := newTestRegistry()
	err := r.JoinRoom("nope", testConn("alice"))
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestJoinRoomTwiceIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	alice := testConn("alice")
	require.NoError(t, r.CreateRoom("room1", alice))
	require.NoError(t, r.JoinRoom("room1", alice))

	members, _ := r.Members("room1", alice)
	assert.Len(t, members, 1)
}

func TestLeaveRoomEvictsEmptyRoom(t *testing.T) {
	r := newTestRegistry()
	alice := testConn("alice")
	require.NoError(t, r.CreateRoom("room1", alice))

	require.NoError(t, r.LeaveRoom("room1", alice))
	assert.Zero(t, r.RoomCount(), "a room never exists empty")
	assert.Empty(t, alice.Room())
}

func TestLeaveRoomKeepsPopulatedRoom(t *testing.T) {
	r := newTestRegistry()
	alice, bob := testConn("alice"), testConn("bob")
	require.NoError(t, r.CreateRoom("room1", alice))
	require.NoError(t, r.JoinRoom("room1", bob))

	require.NoError(t, r.LeaveRoom("room1", alice))
	assert.Equal(t, 1, r.RoomCount())

	members, isMember := r.Members("room1", bob)
	assert.True(t, isMember)
	assert.Len(t, members, 1)
}

func TestLeaveRoomErrors(t *testing.T) {
	r := newTestRegistry()
	alice, bob := testConn("alice"), testConn("bob")
	require.NoError(t, r.CreateRoom("room1", alice))

	assert.ErrorIs(t, r.LeaveRoom("nope", alice), ErrNoRoom)
	assert.ErrorIs(t, r.LeaveRoom("room1", bob), ErrNotMember)

	// Nothing was removed by the failed calls.
	members, _ := r.Members("room1", alice)
	assert.Len(t, members, 1)
}

func TestRemoveEverywhere(t *testing.T) {
	r := newTestRegistry()
	alice, bob := testConn("alice"), testConn("bob")
	require.NoError(t, r.CreateRoom("room1", alice))
	require.NoError(t, r.CreateRoom("room2", bob))
	require.NoError(t, r.JoinRoom("room2", alice))

	r.RemoveEverywhere(alice)

	// room1 had only alice and is gone; room2 keeps bob.
	assert.Equal(t, 1, r.RoomCount())
	members, isMember := r.Members("room2", bob)
	assert.True(t, isMember)
	assert.Len(t, members, 1)
}

func TestListingFormat(t *testing.T) {
	r := newTestRegistry()
	alice, bob := testConn("alice"), testConn("bob")
	require.NoError(t, r.CreateRoom("room1", alice))
	require.NoError(t, r.JoinRoom("room1", bob))
	require.NoError(t, r.CreateRoom("annex", bob))

	// Rooms in name order, members in join order.
	want := "'annex': 1 users\n\tbob\n'room1': 2 users\n\talice\n\tbob\n"
	assert.Equal(t, want, r.Listing())
}

func TestListingEmpty(t *testing.T) {
	assert.Empty(t, newTestRegistry().Listing())
}
