// Package indexer turns chunks into embedded entries and keeps the vector
// store in step with the repository.
//
// An indexing pass compares each file's content hash with the hash stored
// for its path and re-embeds only changed files. Each changed file is
// chunked, embedded in batches and written with a single ReplacePath call,
// so a concurrent query sees either the old or the new version of the file.
// A file that fails keeps its previous entries and is reported in the
// pass statistics.
//
// Embedding batches and store writes share one limit (max_in_flight); file
// workers block when it is reached. Passes are exclusive: a second
// IndexFiles call while one is running returns ErrIndexingInProgress.
//
//	idx, err := indexer.New(store, emb, cfg, logger)
//	stats, err := idx.IndexFiles(ctx, files, indexer.Options{Prune: true})
package indexer
