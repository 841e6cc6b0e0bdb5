// Package store holds the page-scoped key/value stores that back the durable
// buffer. Values are opaque strings; the buffer stores JSON arrays in them.
package store

import (
	"context"
	"fmt"
	"os"

	"github.com/honeycombio/beacon/config"
)

// Store is a small persistent key/value store. A missing key is not an error:
// Get reports it with ok == false.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

func GetStoreImplementation(c config.Config) Store {
	var store Store
	storeType := c.GetStoreConfig().Type
	switch storeType {
	case "memory":
		store = NewMemoryStore()
	case "file":
		store = &FileStore{}
	case "redis":
		store = &RedisStore{}
	default:
		fmt.Printf("unknown store type %s. Exiting.\n", storeType)
		os.Exit(1)
	}
	return store
}
