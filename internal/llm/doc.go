// Package llm contains adapters for the local and hosted language model
// runtimes that back the inference proxy. Provider packages (ollama, openai)
// translate the shared Request/Response types into their native APIs.
package llm
