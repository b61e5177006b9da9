package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)

	sess := &Session{
		ID:       "s1",
		Hash:     "h",
		Name:     "a.png",
		Size:     12,
		Key:      "f1/s1/a.png",
		PartSize: 5,
		NextPart: 2,
		Uploaded: 5,
		Parts:    []Part{{Number: 1, ETag: `"e1"`}},
		Created:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.CreateSession(sess))
	require.NoError(t, store.SetAccessToken("tok"))
	require.NoError(t, store.Close())

	store, err = OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.InFlight("h", "a.png", 12)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	tok, err := store.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestStoreFinish(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)
	defer store.Close()

	for i, name := range []string{"a.png", "b.png"} {
		sess := &Session{ID: name, Hash: name, Name: name, Size: int64(10 * (i + 1))}
		require.NoError(t, store.CreateSession(sess))
		require.NoError(t, store.Finish(sess, &Object{Hash: name, Size: sess.Size, Name: name}))

		_, err = store.Session(sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.InFlight(name, name, sess.Size)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	obj, err := store.Object("b.png", 20)
	require.NoError(t, err)
	assert.Equal(t, "b.png", obj.Name)

	_, err = store.Object("b.png", 21)
	assert.ErrorIs(t, err, ErrNotFound)

	usage, err := store.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(30), usage)
}

func TestPartEnd(t *testing.T) {
	s := &Session{Size: 12, PartSize: 5}
	assert.Equal(t, int64(5), s.PartEnd(1))
	assert.Equal(t, int64(10), s.PartEnd(2))
	assert.Equal(t, int64(12), s.PartEnd(3))
}
