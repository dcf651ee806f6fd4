// Package retriever answers natural-language queries with ranked chunks.
//
// A query is embedded with the same embedder used for indexing, the store
// returns k*m nearest entries, and each candidate is re-scored:
//
//	score = w.similarity * cosine similarity
//	      + w.structural           (entry-point or config file)
//	      + w.proximity / hops     (within N hops of a top file in the dependency graph)
//	      + w.recency * age rank   (newest candidate scores highest)
//
// Results are sorted by score, then path, then chunk sequence, and cut to k.
// An empty store, an unreachable store or a failing embedder yields
// types.ErrRetrievalUnavailable so callers can fall back to graph-only
// answers.
package retriever
