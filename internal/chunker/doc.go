// Package chunker divides source files into overlapping character windows
// for embedding and retrieval.
//
// # Basic Usage
//
//	c, err := chunker.New(1024, 128)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chunks, err := c.Chunk(file)
//	if err != nil {
//	    // *types.EncodingError: binary or undecodable content, skip the file
//	}
//
//	for _, ch := range chunks {
//	    fmt.Printf("%s#%d lines %d-%d (%d tokens)\n",
//	        ch.Path, ch.Seq, ch.StartLine, ch.EndLine, ch.TokenCount())
//	}
//
// # Windowing
//
// A window of Size characters slides across the content, advancing by
// Size-Overlap each step. Windows are measured in Unicode code points, never
// split a multi-byte character, and the last window may be shorter than Size.
// Files no longer than Size produce exactly one chunk, and an empty file
// produces a single empty chunk on line 1.
//
// For a text of L characters the chunk count is
//
//	ceil((L - Overlap) / (Size - Overlap))   when L > Size
//	1                                       otherwise
//
// # Lossless Re-tiling
//
// Each chunk records how many leading characters it shares with its
// predecessor. Dropping those characters and concatenating the chunks in
// sequence order reproduces the original content byte for byte:
//
//	original := types.Reassemble(chunks)
//
// # Line Spans
//
// StartLine and EndLine are 1-based and inclusive, computed by counting
// line breaks before and within each window's byte span. A window that ends
// exactly on a newline does not extend onto the following line.
package chunker
