package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Tags is the denormalized structural snapshot stored with every entry of a file
type Tags struct {
	Language   Language
	EntryPoint bool
	Config     bool
	Test       bool
	Symbols    []string
	Roles      []string
}

// TagsFor builds the entry tags of a file from its structural record.
// A nil record yields language and path-derived tags only.
func TagsFor(file *SourceFile, rec *StructuralRecord) Tags {
	tags := Tags{
		Language: file.Language,
		Config:   IsConfigPath(file.Path),
		Test:     IsTestPath(file.Path),
	}
	if rec != nil {
		tags.EntryPoint = rec.EntryPoint
		tags.Test = tags.Test || rec.Test
		tags.Symbols = rec.SymbolNames()
		tags.Roles = append([]string(nil), rec.Roles...)
	}
	return tags
}

// IndexEntry is the unit stored in and retrieved from the vector store
type IndexEntry struct {
	ID       string
	Chunk    Chunk
	Vector   []float32
	Tags     Tags
	FileHash string // content hash of the owning file at index time
	ModTime  time.Time
	Model    string // embedding model that produced Vector
}

// EntryID derives a stable entry identifier from path, sequence and file hash
func EntryID(path string, seq int, fileHash string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(seq)))
	h.Write([]byte{0})
	h.Write([]byte(fileHash))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
