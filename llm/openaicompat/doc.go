// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package openaicompat implements llm.Provider and llm.Embedder for any
OpenAI-compatible HTTP API (OpenAI, vLLM, Ollama, LM Studio, ...).

Completion uses POST /v1/chat/completions, Stream parses the SSE variant of
the same endpoint into llm.StreamChunk values, and Embed calls
/v1/embeddings. Upstream HTTP failures are mapped to *types.Error with
Retryable set for 429 and 5xx responses.
*/
package openaicompat
