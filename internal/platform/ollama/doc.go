// Package ollama implements llm.Provider against a local or remote Ollama
// server using the github.com/ollama/ollama/api client.
package ollama
