package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Nexus-Chain/sdk/go/nexus"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req nexus.PredictRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(nexus.PredictResponse{
			Completion: "Day 1: Louvre. Day 2: Montmartre.",
			Model:      req.Model,
			DoneReason: "stop",
			Timestamp:  time.Now().UTC(),
		})
	})
	mux.HandleFunc("/tool/use", func(w http.ResponseWriter, r *http.Request) {
		var req nexus.ToolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ToolName != "wikipedia" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"TOOL_UNKNOWN","message":"Unknown tool"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(nexus.ToolResponse{Result: "Page: Paris\nSummary: Capital of France"})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(nexus.ModelsResponse{Models: []nexus.Model{{Name: "llama3.2:1b"}}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := nexus.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("runtime has %d model(s), first=%s\n", len(models), models[0].Name)

	result, err := client.UseTool(ctx, "wikipedia", map[string]any{"query": "Paris"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("tool result: %s\n", result)

	if _, err := client.UseTool(ctx, "gemini", nil); errors.Is(err, nexus.ErrUnknownTool) {
		fmt.Println("gemini is not offered by this proxy")
	}

	completion, err := client.Predict(ctx, nexus.PredictRequest{
		Prompt:      "context from wikipedia: " + result + ". Plan 2 days in Paris",
		Model:       models[0].Name,
		MaxTokens:   200,
		Temperature: 0.7,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("completion (%s): %s\n", completion.DoneReason, completion.Completion)
}
