// Package vectorstore persists embedded chunks and answers cosine
// nearest-neighbour queries.
//
// Two backends implement Store. The SQLite backend keeps entries and their
// owning files in one database; with the sqlite_vec build tag distances are
// computed in SQL by sqlite-vec, otherwise in Go over the pure-Go driver.
// The Qdrant backend stores one point per entry and keeps the embedding
// model record in a companion collection.
//
// Both backends replace a file's entries atomically from the reader's point
// of view, so a query during re-indexing sees either the old or the new
// version of a file.
package vectorstore
