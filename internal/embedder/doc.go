// Package embedder turns chunk and query text into fixed-dimension vectors.
//
// Three providers implement Embedder:
//
//   - ollama: the local Ollama service, POST /api/embed
//   - openai: the OpenAI embeddings API (or any compatible endpoint)
//   - local: an offline hashing embedder, deterministic and dependency free
//
// Build one from configuration:
//
//	emb, err := embedder.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk.Content},
//	})
//
// Remote calls are retried with exponential backoff on rate limits, server
// errors and timeouts. Each attempt runs under its own timeout. Client errors
// fail immediately. Vectors are cached by content hash in an LRU cache, so
// re-embedding unchanged chunks and repeated queries cost nothing.
//
// The same provider and model must serve indexing and querying; the vector
// store records both and refuses mismatches.
package embedder
