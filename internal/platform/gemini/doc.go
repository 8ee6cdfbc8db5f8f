// Package gemini implements llm.Provider on Google's Gemini API through the
// google.golang.org/genai SDK.
package gemini
