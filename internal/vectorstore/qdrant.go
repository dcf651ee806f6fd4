package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/dshills/coderag/pkg/types"
)

// BackendQdrant names the remote backend
const BackendQdrant = "qdrant"

// pointNamespace derives deterministic point UUIDs from entry IDs
var pointNamespace = uuid.MustParse("6f1c9d3e-3b7a-5c1e-9a4f-2d8b7e6c5a10")

// Payload keys
const (
	fieldPath       = "path"
	fieldFileHash   = "file_hash"
	fieldGeneration = "generation"
	fieldIndexedAt  = "indexed_at"
)

// QdrantStore implements Store on a Qdrant collection. Path replacement is
// double buffered: the new generation is written before the old one is
// deleted, so queries may briefly see both but never neither.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	timeout    time.Duration
	attempts   int
}

// QdrantOptions configures the Qdrant connection
type QdrantOptions struct {
	Host        string
	Port        int
	Collection  string
	Timeout     time.Duration // per-call timeout
	MaxAttempts int
}

// OpenQdrant connects to Qdrant and verifies it is healthy
func OpenQdrant(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: opts.Host,
		Port: opts.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %v", ErrUnavailable, err)
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		timeout:    opts.Timeout,
		attempts:   opts.MaxAttempts,
	}
	if s.attempts <= 0 {
		s.attempts = 3
	}

	err = s.retry(ctx, func(ctx context.Context) error {
		_, err := s.client.HealthCheck(ctx)
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

// retry runs op with a per-attempt timeout and exponential backoff
func (s *QdrantStore) retry(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)
	return backoff.Retry(func() error {
		attemptCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (s *QdrantStore) metaCollection() string {
	return s.collection + "_meta"
}

// ensureCollection creates the entry collection for dimension dim
func (s *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	return s.retry(ctx, func(ctx context.Context) error {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil || exists {
			return err
		}

		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		for _, field := range []string{fieldPath, fieldFileHash, fieldGeneration} {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: s.collection,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return fmt.Errorf("failed to create index for field %s: %w", field, err)
			}
		}
		return nil
	})
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	return exists, err
}

// pointID maps an entry ID onto a stable UUID
func pointID(entryID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(entryID)).String()
}

// toPoint builds the Qdrant point of an entry
func toPoint(e *types.IndexEntry, generation string, indexedAt time.Time) *qdrant.PointStruct {
	c := &e.Chunk
	payload := map[string]any{
		"id":            e.ID,
		fieldPath:       c.Path,
		"seq":           int64(c.Seq),
		"start_line":    int64(c.StartLine),
		"end_line":      int64(c.EndLine),
		"start_offset":  int64(c.StartOffset),
		"end_offset":    int64(c.EndOffset),
		"start_byte":    int64(c.StartByte),
		"end_byte":      int64(c.EndByte),
		"overlap":       int64(c.Overlap),
		"content":       c.Content,
		"model":         e.Model,
		fieldFileHash:   e.FileHash,
		"mod_time":      unixNano(e.ModTime),
		"language":      string(e.Tags.Language),
		"entry_point":   e.Tags.EntryPoint,
		"config":        e.Tags.Config,
		"test":          e.Tags.Test,
		"symbols":       toList(e.Tags.Symbols),
		"roles":         toList(e.Tags.Roles),
		fieldGeneration: generation,
		fieldIndexedAt:  indexedAt.Unix(),
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(e.ID)),
		Vectors: qdrant.NewVectors(e.Vector...),
		Payload: qdrant.NewValueMap(payload),
	}
}

// fromPayload rebuilds an entry (without vector) from a point payload
func fromPayload(p map[string]*qdrant.Value) types.IndexEntry {
	e := types.IndexEntry{
		ID: p["id"].GetStringValue(),
		Chunk: types.Chunk{
			Path:        p[fieldPath].GetStringValue(),
			Seq:         int(p["seq"].GetIntegerValue()),
			StartLine:   int(p["start_line"].GetIntegerValue()),
			EndLine:     int(p["end_line"].GetIntegerValue()),
			StartOffset: int(p["start_offset"].GetIntegerValue()),
			EndOffset:   int(p["end_offset"].GetIntegerValue()),
			StartByte:   int(p["start_byte"].GetIntegerValue()),
			EndByte:     int(p["end_byte"].GetIntegerValue()),
			Overlap:     int(p["overlap"].GetIntegerValue()),
			Content:     p["content"].GetStringValue(),
		},
		Tags: types.Tags{
			Language:   types.Language(p["language"].GetStringValue()),
			EntryPoint: p["entry_point"].GetBoolValue(),
			Config:     p["config"].GetBoolValue(),
			Test:       p["test"].GetBoolValue(),
			Symbols:    fromList(p["symbols"]),
			Roles:      fromList(p["roles"]),
		},
		FileHash: p[fieldFileHash].GetStringValue(),
		Model:    p["model"].GetStringValue(),
	}
	if ns := p["mod_time"].GetIntegerValue(); ns != 0 {
		e.ModTime = time.Unix(0, ns).UTC()
	}
	return e
}

func toList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func fromList(v *qdrant.Value) []string {
	list := v.GetListValue()
	if list == nil || len(list.Values) == 0 {
		return nil
	}
	out := make([]string, len(list.Values))
	for i, item := range list.Values {
		out[i] = item.GetStringValue()
	}
	return out
}

func (s *QdrantStore) upsertPoints(ctx context.Context, entries []types.IndexEntry, generation string) error {
	dim, err := validateEntries(entries)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}

	now := time.Now()
	points := make([]*qdrant.PointStruct, len(entries))
	for i := range entries {
		points[i] = toPoint(&entries[i], generation, now)
	}

	return s.retry(ctx, func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []types.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.upsertPoints(ctx, entries, uuid.NewString())
}

// ReplacePath writes the new generation of path, then deletes every point
// of path from older generations.
func (s *QdrantStore) ReplacePath(ctx context.Context, path string, entries []types.IndexEntry) error {
	for i := range entries {
		if entries[i].Chunk.Path != path {
			return fmt.Errorf("entry %s belongs to %s, not %s", entries[i].ID, entries[i].Chunk.Path, path)
		}
	}
	if len(entries) == 0 {
		return s.DeleteByPath(ctx, path)
	}

	generation := uuid.NewString()
	if err := s.upsertPoints(ctx, entries, generation); err != nil {
		return err
	}
	return s.deleteWhere(ctx, &qdrant.Filter{
		Must:    []*qdrant.Condition{qdrant.NewMatch(fieldPath, path)},
		MustNot: []*qdrant.Condition{qdrant.NewMatch(fieldGeneration, generation)},
	})
}

func (s *QdrantStore) DeleteByPath(ctx context.Context, path string) error {
	return s.deleteWhere(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(fieldPath, path)},
	})
}

func (s *QdrantStore) deleteWhere(ctx context.Context, filter *qdrant.Filter) error {
	exists, err := s.collectionExists(ctx, s.collection)
	if err != nil || !exists {
		return err
	}
	return s.retry(ctx, func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		return err
	})
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 || len(vector) == 0 {
		return []Match{}, nil
	}
	exists, err := s.collectionExists(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []Match{}, nil
	}

	var results []*qdrant.ScoredPoint
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		results, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Entry:    fromPayload(r.Payload),
			Distance: 1 - float64(r.Score),
		})
	}
	sortMatches(matches)
	return matches, nil
}

// scrollFiles pages through every point collecting path, hash and latest write
func (s *QdrantStore) scrollFiles(ctx context.Context) (map[string]string, time.Time, error) {
	hashes := make(map[string]string)
	var latest int64

	exists, err := s.collectionExists(ctx, s.collection)
	if err != nil || !exists {
		return hashes, time.Time{}, err
	}

	const pageSize = uint32(256)
	var offset *qdrant.PointId
	for {
		var page []*qdrant.RetrievedPoint
		err := s.retry(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: s.collection,
				Limit:          qdrant.PtrOf(pageSize),
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayloadInclude(fieldPath, fieldFileHash, fieldIndexedAt),
			})
			return err
		})
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scroll entries: %w", err)
		}

		for _, p := range page {
			hashes[p.Payload[fieldPath].GetStringValue()] = p.Payload[fieldFileHash].GetStringValue()
			latest = max(latest, p.Payload[fieldIndexedAt].GetIntegerValue())
		}

		// The offset point is included in the next page
		if uint32(len(page)) < pageSize {
			break
		}
		offset = page[len(page)-1].Id
	}

	var at time.Time
	if latest > 0 {
		at = time.Unix(latest, 0).UTC()
	}
	return hashes, at, nil
}

func (s *QdrantStore) FileHashes(ctx context.Context) (map[string]string, error) {
	hashes, _, err := s.scrollFiles(ctx)
	return hashes, err
}

var metaPointID = uuid.NewSHA1(pointNamespace, []byte("store_meta")).String()

func (s *QdrantStore) Meta(ctx context.Context) (Meta, error) {
	exists, err := s.collectionExists(ctx, s.metaCollection())
	if err != nil {
		return Meta{}, err
	}
	if !exists {
		return Meta{}, ErrNotFound
	}

	var points []*qdrant.RetrievedPoint
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		points, err = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.metaCollection(),
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(metaPointID)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return Meta{}, err
	}
	if len(points) == 0 {
		return Meta{}, ErrNotFound
	}

	p := points[0].Payload
	return Meta{
		Provider:     p["provider"].GetStringValue(),
		Model:        p["model"].GetStringValue(),
		Dimension:    int(p["dimension"].GetIntegerValue()),
		ChunkSize:    int(p["chunk_size"].GetIntegerValue()),
		ChunkOverlap: int(p["chunk_overlap"].GetIntegerValue()),
	}, nil
}

func (s *QdrantStore) SetMeta(ctx context.Context, meta Meta) error {
	return s.retry(ctx, func(ctx context.Context) error {
		exists, err := s.client.CollectionExists(ctx, s.metaCollection())
		if err != nil {
			return err
		}
		if !exists {
			err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.metaCollection(),
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     1,
					Distance: qdrant.Distance_Dot,
				}),
			})
			if err != nil {
				return fmt.Errorf("failed to create meta collection: %w", err)
			}
		}

		_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.metaCollection(),
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointStruct{{
				Id:      qdrant.NewIDUUID(metaPointID),
				Vectors: qdrant.NewVectors(1),
				Payload: qdrant.NewValueMap(map[string]any{
					"provider":      meta.Provider,
					"model":         meta.Model,
					"dimension":     int64(meta.Dimension),
					"chunk_size":    int64(meta.ChunkSize),
					"chunk_overlap": int64(meta.ChunkOverlap),
				}),
			}},
		})
		return err
	})
}

func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: BackendQdrant}

	hashes, at, err := s.scrollFiles(ctx)
	if err != nil {
		return stats, err
	}
	stats.Paths = len(hashes)
	stats.IndexedAt = at

	if len(hashes) > 0 {
		err = s.retry(ctx, func(ctx context.Context) error {
			count, err := s.client.Count(ctx, &qdrant.CountPoints{
				CollectionName: s.collection,
				Exact:          qdrant.PtrOf(true),
			})
			stats.Entries = int(count)
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("failed to count entries: %w", err)
		}
	}

	meta, err := s.Meta(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return stats, err
	}
	stats.Model = meta.Model
	stats.Dimension = meta.Dimension
	return stats, nil
}

// Reset drops the entry and meta collections
func (s *QdrantStore) Reset(ctx context.Context) error {
	for _, name := range []string{s.collection, s.metaCollection()} {
		exists, err := s.collectionExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		err = s.retry(ctx, func(ctx context.Context) error {
			return s.client.DeleteCollection(ctx, name)
		})
		if err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
