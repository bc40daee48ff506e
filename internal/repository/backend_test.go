package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophOTP/internal/db"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	fb, err := OpenFileBackend(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)

	conn, err := db.InitSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   fb,
		"sqlite": NewSQLBackend(conn, SQLite),
	}
}

func TestBackends_Contract(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			item := Item{Service: "otp", Account: "a1", Class: ClassUnlocked, Data: []byte{1, 2, 3}}

			_, err := b.Get(ctx, "otp", "a1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, b.Update(ctx, item), ErrNotFound)
			assert.ErrorIs(t, b.Delete(ctx, "otp", "a1"), ErrNotFound)

			require.NoError(t, b.Insert(ctx, item))
			assert.ErrorIs(t, b.Insert(ctx, item), ErrDuplicateAccount)

			got, err := b.Get(ctx, "otp", "a1")
			require.NoError(t, err)
			assert.Equal(t, item, got)

			other := Item{Service: "token", Account: "a1", Data: []byte{9}}
			require.NoError(t, b.Insert(ctx, other))

			item.Class = ClassPresence
			item.Data = []byte{4, 5}
			require.NoError(t, b.Update(ctx, item))
			got, err = b.Get(ctx, "otp", "a1")
			require.NoError(t, err)
			assert.Equal(t, item, got)

			require.NoError(t, b.Delete(ctx, "otp", "a1"))
			_, err = b.Get(ctx, "otp", "a1")
			assert.ErrorIs(t, err, ErrNotFound)

			got, err = b.Get(ctx, "token", "a1")
			require.NoError(t, err)
			assert.Equal(t, []byte{9}, got.Data)
		})
	}
}

func TestMemoryBackend_CopiesData(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	data := []byte{1, 2}
	require.NoError(t, b.Insert(ctx, Item{Service: "s", Account: "a", Data: data}))
	data[0] = 9

	got, err := b.Get(ctx, "s", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got.Data)
	assert.Equal(t, 1, b.Len("s"))
	assert.Equal(t, 0, b.Len("other"))
}

func TestFileBackend_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")

	fb, err := OpenFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, fb.Insert(ctx, Item{Service: "otp", Account: "a", Class: ClassPresence, Data: []byte("x")}))
	require.NoError(t, fb.Insert(ctx, Item{Service: "otp", Account: "b", Data: []byte("y")}))
	require.NoError(t, fb.Delete(ctx, "otp", "b"))

	reopened, err := OpenFileBackend(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "otp", "a")
	require.NoError(t, err)
	assert.Equal(t, ClassPresence, got.Class)
	assert.Equal(t, []byte("x"), got.Data)
	_, err = reopened.Get(ctx, "otp", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileBackend_FailedWriteKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(dir, 0o700))

	fb, err := OpenFileBackend(filepath.Join(dir, "records.json"))
	require.NoError(t, err)
	require.NoError(t, fb.Insert(ctx, Item{Service: "s", Account: "a", Data: []byte("1")}))
	require.NoError(t, os.RemoveAll(dir))

	err = fb.Insert(ctx, Item{Service: "s", Account: "b", Data: []byte("2")})
	assert.ErrorIs(t, err, ErrStoreIO)
	_, err = fb.Get(ctx, "s", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	err = fb.Delete(ctx, "s", "a")
	assert.ErrorIs(t, err, ErrStoreIO)
	_, err = fb.Get(ctx, "s", "a")
	assert.NoError(t, err)
}

func TestOpenFileBackend_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFileBackend(path)
	assert.ErrorIs(t, err, ErrStoreIO)
}
