package domain

import "context"

// Database defines lifecycle operations for the underlying database.
// Each implementation (SQLite, Badger) owns its own schema and migration
// strategy, ensuring the entire backend is swappable.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
}

// Transactor runs fn inside a single serializable transaction scope.
// Repository calls made with the context passed to fn join that transaction.
// Nested calls reuse the outer transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles everything the services need from a persistence backend.
type Store interface {
	Database
	Transactor
	Images() ImageRepository
	Thumbnails() ThumbnailRepository
}
