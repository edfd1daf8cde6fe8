package repository

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/feedingest/internal/infra/kv"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	store := kv.NewPebbleStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}
