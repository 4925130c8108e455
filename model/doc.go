// Package model defines the completion-provider boundary: the normalized
// Request the orchestrator builds each turn, the Response stream a provider
// emits (atomic messages or ordered fragments), and the Model interface
// concrete adapters implement. Sub-packages wrap vendor SDKs (openai,
// anthropic); MockModel serves tests and examples.
package model
