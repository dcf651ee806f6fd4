package types

// ScoreBreakdown records how a ranked chunk's score was composed
type ScoreBreakdown struct {
	Similarity float64
	Structural float64 // entry-point / config boost
	Proximity  float64 // graph-proximity boost
	Recency    float64
}

// RankedChunk is a retrieval result after structural re-ranking
type RankedChunk struct {
	Chunk     Chunk
	Tags      Tags
	FileHash  string // content hash of the file the chunk was cut from
	Rank      int    // Position in result set (1-based)
	Distance  float64
	Score     float64
	Breakdown ScoreBreakdown
}

// Validate checks if the ranked chunk is valid
func (rc *RankedChunk) Validate() error {
	if rc.Chunk.Path == "" {
		return ErrMissingPath
	}
	if rc.Rank < 1 {
		return ErrInvalidRank
	}
	if rc.Chunk.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
