// Package storage abstracts the durable blob store that holds resolved PDF
// copies and persisted job results.
package storage

import "context"

// Store is the storage collaborator contract. Keys follow the durable naming
// scheme derived from paper identifiers, so the same work maps to the same
// key across runs.
type Store interface {
	// Exists reports whether an object with the given key is already stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Put stores the bytes under the key and returns the durable URL of the
	// stored object. Storing the same key twice overwrites the object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves the stored bytes for the key. A missing key yields an
	// error wrapping domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// URL returns the durable URL an existing key is served under, without
	// touching the backend. It matches what Put returned for that key.
	URL(key string) string
}
