// Package llm provides the inference capability used to answer questions
// and suggest edits over an assembled context payload.
//
// Two providers are supported: a local Ollama server through /api/chat and
// any OpenAI compatible endpoint through openai-go. Prompts are rendered
// from embedded text templates; every rendered prompt lists only the files
// present in the payload and must fit the configured context window
// together with the completion budget.
package llm
