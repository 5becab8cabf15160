// Package stores provides persistence layer implementations for tracklane.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations and typed views for rules, flows, segments, profiles,
// events and debug records.
package stores
