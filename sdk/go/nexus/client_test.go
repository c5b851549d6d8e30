package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Prompt != "hi" || req.MaxTokens != 10 {
			t.Errorf("unexpected payload: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(PredictResponse{Completion: "hello", Model: req.Model, Timestamp: time.Now().UTC()})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Predict(context.Background(), PredictRequest{Prompt: "hi", Model: "llama3.2:1b", MaxTokens: 10})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if resp.Completion != "hello" {
		t.Fatalf("unexpected completion %q", resp.Completion)
	}
}

func TestUseToolErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ToolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.ToolName {
		case "search":
			_ = json.NewEncoder(w).Encode(ToolResponse{Result: "found"})
		case "gemini":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"TOOL_UNKNOWN","message":"Unknown tool: gemini"}}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"code":"INVALID_ARGUMENT","message":"missing query"}}`))
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	result, err := client.UseTool(ctx, "search", map[string]any{"query": "x", "num_results": "1"})
	if err != nil || result != "found" {
		t.Fatalf("unexpected result %q, %v", result, err)
	}

	_, err = client.UseTool(ctx, "gemini", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "TOOL_UNKNOWN" {
		t.Fatalf("expected api error with code, got %v", err)
	}

	if _, err := client.UseTool(ctx, "wikipedia", nil); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestEndpointOverrides(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/custom/tool" {
			_ = json.NewEncoder(w).Encode(ToolResponse{Result: "ok"})
			return
		}
		_ = json.NewEncoder(w).Encode(PredictResponse{Completion: "ok"})
	}))
	defer srv.Close()

	client, err := NewClient("http://unused.invalid", srv.Client(),
		WithPredictURL(srv.URL+"/custom/predict"),
		WithToolURL(srv.URL+"/custom/tool"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Predict(context.Background(), PredictRequest{Prompt: "x", Model: "m"}); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if _, err := client.UseTool(context.Background(), "search", nil); err != nil {
		t.Fatalf("use tool: %v", err)
	}
	if len(hits) != 2 || hits[0] != "/custom/predict" || hits[1] != "/custom/tool" {
		t.Fatalf("unexpected paths %v", hits)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ModelsResponse{Models: []Model{{Name: "llama3.2:1b", Size: 1}}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2:1b" {
		t.Fatalf("unexpected models %+v", models)
	}
}
