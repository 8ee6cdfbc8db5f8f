// Package llm is the boundary between the task engine and AI model providers.
//
// A Provider offers a one-shot Invoke and a chunked Stream over a
// provider-neutral message history, optionally advertising tools the model
// may call. Concrete providers live under internal/platform (gemini, ollama)
// and are selected at startup by Kind. RetryingProvider adds per-attempt
// timeouts and capped exponential backoff around any Provider.
package llm
