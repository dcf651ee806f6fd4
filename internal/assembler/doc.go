// Package assembler packs ranked chunks and dependency facts into a
// ContextPayload that fits a token budget.
//
// Tokens are estimated as ceil(bytes/4). Ninety percent of the budget goes
// to chunks in rank order and the rest to one-line dependency facts about
// the included files. A payload never cites a path that was not part of its
// input, and never exceeds its budget.
package assembler
