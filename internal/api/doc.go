// Package api serves the inference proxy: completions against the configured
// model runtime, the tool table, and the model list, plus health and metrics
// endpoints for operators.
package api
