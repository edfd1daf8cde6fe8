package database

import (
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// NewPebble opens the embedded store at path. An empty path keeps everything in memory.
func NewPebble(path string) (*pebble.DB, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
	}
	return pebble.Open(path, opts)
}
