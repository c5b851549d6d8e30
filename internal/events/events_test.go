package events

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/storage/mysql"
	"Nexus-Chain/internal/tools"
	"Nexus-Chain/internal/web3"
	nexussdk "Nexus-Chain/sdk/go/nexus"
)

const testPackage = "0xpkg"

type fakeSource struct {
	mu      sync.Mutex
	pages   []web3.EventPage
	queries []web3.EventQuery
	err     error
}

func (f *fakeSource) QueryEvents(_ context.Context, q web3.EventQuery) (web3.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return web3.EventPage{}, f.err
	}
	if len(f.pages) == 0 {
		return web3.EventPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type fakeInference struct {
	requests []nexussdk.PredictRequest
	reply    string
	err      error
}

func (f *fakeInference) Predict(_ context.Context, req nexussdk.PredictRequest) (nexussdk.PredictResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nexussdk.PredictResponse{}, f.err
	}
	return nexussdk.PredictResponse{Completion: f.reply, Model: req.Model}, nil
}

type fakeTools struct {
	calls  []map[string]any
	result string
	err    error
}

func (f *fakeTools) UseTool(_ context.Context, _ string, args map[string]any) (string, error) {
	f.calls = append(f.calls, args)
	return f.result, f.err
}

type submission struct {
	execution, capID, text string
}

type fakeSubmitter struct {
	submitted []submission
	err       error
}

func (f *fakeSubmitter) SubmitCompletion(_ context.Context, executionID, capID, text string) (web3.TransactionResult, error) {
	f.submitted = append(f.submitted, submission{executionID, capID, text})
	if f.err != nil {
		return web3.TransactionResult{Digest: "bad", Error: "MoveAbort"}, f.err
	}
	return web3.TransactionResult{Digest: "digest-" + executionID, Status: "success"}, nil
}

type fakeJournal struct {
	records []mysql.CompletionRecord
}

func (f *fakeJournal) Record(_ context.Context, r mysql.CompletionRecord) error {
	f.records = append(f.records, r)
	return nil
}

func payload(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	base := map[string]any{
		"cluster_execution": "0xexec",
		"model":             "0xmodel",
		"model_name":        "llama3.2:1b",
		"prompt_contents":   "What is Sui?",
		"max_tokens":        "256",
		"temperature":       70,
		"tool":              nil,
	}
	for k, v := range fields {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func event(seq string, raw json.RawMessage) web3.Event {
	return web3.Event{
		ID:         web3.EventID{TxDigest: "tx" + seq, EventSeq: seq},
		Type:       EventType(testPackage),
		ParsedJSON: raw,
	}
}

type harness struct {
	inference *fakeInference
	tools     *fakeTools
	submitter *fakeSubmitter
	journal   *fakeJournal
	handler   *Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		inference: &fakeInference{reply: "Sui is a “layer 1” chain…"},
		tools:     &fakeTools{result: "search results"},
		submitter: &fakeSubmitter{},
		journal:   &fakeJournal{},
	}
	handler, err := NewHandler(HandlerConfig{
		ModelOwnerCapID: "0xcap",
		Tools:           tools.NewRegistry(tools.Config{}),
		ToolRunner:      h.tools,
		Inference:       h.inference,
		Submitter:       h.submitter,
		Journal:         h.journal,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	h.handler = handler
	return h
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(event("0", payload(t, map[string]any{
		"max_tokens":  512,
		"temperature": "150",
		"tool": map[string]any{
			"fields": map[string]any{"name": "search", "args": []string{"sui", "3"}},
		},
		"extra_field": true,
	})))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.ExecutionID != "0xexec" || req.ModelID != "0xmodel" || req.ModelName != "llama3.2:1b" {
		t.Fatalf("unexpected ids: %+v", req)
	}
	if req.MaxTokens != 512 || req.Temperature != 1.5 {
		t.Fatalf("unexpected numbers: %+v", req)
	}
	if req.Tool == nil || req.Tool.Name != "search" || strings.Join(req.Tool.Args, ",") != "sui,3" {
		t.Fatalf("unexpected tool: %+v", req.Tool)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	cases := map[string]json.RawMessage{
		"empty":           nil,
		"not object":      json.RawMessage(`"{'model_name': 'x'}"`),
		"missing prompt":  payload(t, map[string]any{"prompt_contents": nil}),
		"missing model":   payload(t, map[string]any{"model_name": ""}),
		"negative tokens": payload(t, map[string]any{"max_tokens": -1}),
		"bad version":     payload(t, map[string]any{"version": "v2"}),
		"tool no name":    payload(t, map[string]any{"tool": map[string]any{"fields": map[string]any{"args": []string{}}}}),
	}
	for name, raw := range cases {
		_, err := DecodeRequest(event("0", raw))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected malformed error, got %v", name, err)
		}
	}

	if _, err := DecodeRequest(event("0", payload(t, map[string]any{"version": PayloadVersion}))); err != nil {
		t.Fatalf("explicit v1 should decode: %v", err)
	}
}

func TestHandlerSubmitsSanitizedCompletion(t *testing.T) {
	h := newHarness(t)
	req, _ := DecodeRequest(event("0", payload(t, nil)))

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "submitted" || res.Err != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.submitter.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(h.submitter.submitted))
	}
	got := h.submitter.submitted[0]
	if got.execution != "0xexec" || got.capID != "0xcap" {
		t.Fatalf("unexpected submission: %+v", got)
	}
	if got.text != `Sui is a "layer 1" chain...` {
		t.Fatalf("completion not sanitized: %q", got.text)
	}
	if pr := h.inference.requests[0]; pr.MaxTokens != 256 || pr.Temperature != 0.7 || pr.Prompt != "What is Sui?" {
		t.Fatalf("unexpected predict request: %+v", pr)
	}
	if len(h.journal.records) != 1 || h.journal.records[0].Digest != "digest-0xexec" {
		t.Fatalf("unexpected journal: %+v", h.journal.records)
	}
}

func TestHandlerClampsTemperature(t *testing.T) {
	h := newHarness(t)
	req, _ := DecodeRequest(event("0", payload(t, map[string]any{"temperature": 500})))

	h.handler.Handle(context.Background(), req)
	if got := h.inference.requests[0].Temperature; got != 1.0 {
		t.Fatalf("temperature 5.0 should become 1.0, got %v", got)
	}
}

func TestHandlerCapsTokenBudget(t *testing.T) {
	h := newHarness(t)
	req, err := DecodeRequest(event("0", payload(t, map[string]any{"max_tokens": "18446744073709551615"})))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "submitted" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := h.inference.requests[0].MaxTokens; got != math.MaxInt32 {
		t.Fatalf("max tokens should be capped, got %d", got)
	}
}

func TestHandlerPrefixesToolContext(t *testing.T) {
	h := newHarness(t)
	req, _ := DecodeRequest(event("0", payload(t, map[string]any{
		"tool": map[string]any{"fields": map[string]any{"name": "search", "args": []string{"sui", "3"}}},
	})))

	h.handler.Handle(context.Background(), req)
	if len(h.tools.calls) != 1 || h.tools.calls[0]["query"] != "sui" || h.tools.calls[0]["num_results"] != "3" {
		t.Fatalf("unexpected tool args: %+v", h.tools.calls)
	}
	want := "context from search: search results. What is Sui?"
	if got := h.inference.requests[0].Prompt; got != want {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestHandlerAbortsOnUnknownTool(t *testing.T) {
	h := newHarness(t)
	req, _ := DecodeRequest(event("0", payload(t, map[string]any{
		"tool": map[string]any{"fields": map[string]any{"name": "gemini", "args": []string{"x"}}},
	})))

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "failed" || !errors.Is(res.Err, tools.ErrUnknownTool) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.tools.calls) != 0 || len(h.inference.requests) != 0 || len(h.submitter.submitted) != 0 {
		t.Fatalf("event should be aborted before any call")
	}
}

func TestHandlerAbortsOnToolError(t *testing.T) {
	h := newHarness(t)
	h.tools.err = nexussdk.ErrInvalidArguments
	req, _ := DecodeRequest(event("0", payload(t, map[string]any{
		"tool": map[string]any{"fields": map[string]any{"name": "wikipedia", "args": []string{}}},
	})))

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "failed" || len(h.inference.requests) != 0 {
		t.Fatalf("tool error should abort the event: %+v", res)
	}
}

func TestHandlerRecordsRejection(t *testing.T) {
	h := newHarness(t)
	h.submitter.err = xerrors.New(xerrors.CodeRejected, "MoveAbort")
	req, _ := DecodeRequest(event("0", payload(t, nil)))

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "rejected" {
		t.Fatalf("expected rejected outcome, got %+v", res)
	}
	if h.journal.records[0].Error == "" {
		t.Fatalf("journal should carry the error: %+v", h.journal.records[0])
	}
}

func TestHandlerInferenceTimeout(t *testing.T) {
	h := newHarness(t)
	h.handler.timeout = 10 * time.Millisecond
	blocking := &blockingInference{}
	h.handler.inference = blocking
	req, _ := DecodeRequest(event("0", payload(t, nil)))

	res := h.handler.Handle(context.Background(), req)
	if res.Outcome != "failed" || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %+v", res)
	}
}

type blockingInference struct{}

func (blockingInference) Predict(ctx context.Context, _ nexussdk.PredictRequest) (nexussdk.PredictResponse, error) {
	<-ctx.Done()
	return nexussdk.PredictResponse{}, ctx.Err()
}

func TestPollAdvancesCursorPastLastEvent(t *testing.T) {
	h := newHarness(t)
	source := &fakeSource{pages: []web3.EventPage{
		{Data: []web3.Event{
			event("0", payload(t, nil)),
			event("1", json.RawMessage(`{"broken":`)),
			event("2", payload(t, map[string]any{"cluster_execution": "0xother"})),
		}},
	}}
	cursors := &MemoryCursorStore{}
	l, err := NewListener(source, testPackage, h.handler,
		WithCursorStore(cursors),
		WithJournal(h.journal),
		WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}

	ctx := context.Background()
	next, err := l.Poll(ctx, nil)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if next == nil || *next != (web3.EventID{TxDigest: "tx2", EventSeq: "2"}) {
		t.Fatalf("cursor should be the last event id, got %v", next)
	}
	if len(h.submitter.submitted) != 2 || h.submitter.submitted[1].execution != "0xother" {
		t.Fatalf("well-formed events should still be processed: %+v", h.submitter.submitted)
	}
	saved, _ := cursors.Load(ctx)
	if saved == nil || *saved != *next {
		t.Fatalf("cursor not saved: %v", saved)
	}

	again, err := l.Poll(ctx, next)
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if again != next {
		t.Fatalf("empty page should keep the cursor")
	}
	if q := source.queries[1]; q.Cursor == nil || *q.Cursor != *next || q.MoveEventType != "0xpkg::prompt::RequestForCompletionEvent" {
		t.Fatalf("unexpected second query: %+v", q)
	}
	if len(h.submitter.submitted) != 2 {
		t.Fatalf("last event must not be re-delivered")
	}
	if len(h.journal.records) != 3 || h.journal.records[1].Outcome != "malformed" {
		t.Fatalf("unexpected journal: %+v", h.journal.records)
	}
}

func TestModelFilterSkipsOtherModels(t *testing.T) {
	h := newHarness(t)
	source := &fakeSource{pages: []web3.EventPage{{Data: []web3.Event{
		event("0", payload(t, map[string]any{"model": "0xsomeone-else"})),
		event("1", payload(t, nil)),
	}}}}
	l, err := NewListener(source, testPackage, h.handler, WithModelFilter("0xmodel"))
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	if _, err := l.Poll(context.Background(), nil); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(h.submitter.submitted) != 1 {
		t.Fatalf("expected only the matching event to be processed, got %d", len(h.submitter.submitted))
	}
}

func TestRunStopsOnQueryError(t *testing.T) {
	h := newHarness(t)
	source := &fakeSource{err: errors.New("connection refused")}
	l, _ := NewListener(source, testPackage, h.handler)

	err := l.Run(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeTransport {
		t.Fatalf("expected fatal transport error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	l, _ := NewListener(&fakeSource{}, testPackage, h.handler, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run should return nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestRunResumesFromStoredCursor(t *testing.T) {
	h := newHarness(t)
	cursors := &MemoryCursorStore{}
	_ = cursors.Save(context.Background(), web3.EventID{TxDigest: "txA", EventSeq: "9"})
	source := &fakeSource{err: errors.New("stop")}
	l, _ := NewListener(source, testPackage, h.handler, WithCursorStore(cursors))

	_ = l.Run(context.Background())
	if q := source.queries[0]; q.Cursor == nil || q.Cursor.TxDigest != "txA" {
		t.Fatalf("first query should start from the stored cursor: %+v", q)
	}
}
