package sui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcHandler func(params []json.RawMessage) (any, *rpcError)

// fakeNode serves JSON-RPC 2.0 over HTTP, including batch requests.
type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    []rpcRequest
}

func newFakeNode(t *testing.T, handlers map[string]rpcHandler) (*fakeNode, *httptest.Server) {
	node := &fakeNode{t: t, handlers: handlers}
	srv := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(srv.Close)
	return node, srv
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		n.t.Errorf("read body: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if len(body) > 0 && body[0] == '[' {
		var batch []rpcRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			n.t.Errorf("decode batch: %v", err)
			return
		}
		responses := make([]map[string]any, 0, len(batch))
		for _, req := range batch {
			responses = append(responses, n.dispatch(req))
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		n.t.Errorf("decode request: %v", err)
		return
	}
	_ = json.NewEncoder(w).Encode(n.dispatch(req))
}

func (n *fakeNode) dispatch(req rpcRequest) map[string]any {
	n.mu.Lock()
	n.calls = append(n.calls, req)
	handler := n.handlers[req.Method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = rpcError{Code: -32601, Message: "method not found"}
		return resp
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp["error"] = rpcErr
		return resp
	}
	resp["result"] = result
	return resp
}

func (n *fakeNode) methodCalls(method string) []rpcRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []rpcRequest
	for _, c := range n.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	signer, err := NewSigner(testSeed())
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, Config{Name: "localnet", RPCURL: srv.URL, Signer: signer, Notes: "test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestQueryEventsPassesCursorAndDecodesPage(t *testing.T) {
	node, srv := newFakeNode(t, map[string]rpcHandler{
		"suix_queryEvents": func(params []json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"data": []map[string]any{{
					"id":         map[string]string{"txDigest": "D2", "eventSeq": "1"},
					"type":       "0xpkg::prompt::RequestForCompletionEvent",
					"parsedJson": map[string]any{"prompt_contents": "hi", "max_tokens": "64"},
				}},
				"nextCursor":  map[string]string{"txDigest": "D2", "eventSeq": "1"},
				"hasNextPage": false,
			}, nil
		},
	})
	client := newTestClient(t, srv)

	page, err := client.QueryEvents(context.Background(), web3.EventQuery{
		MoveEventType: "0xpkg::prompt::RequestForCompletionEvent",
		Cursor:        &web3.EventID{TxDigest: "D1", EventSeq: "0"},
	})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].ID.TxDigest != "D2" {
		t.Fatalf("unexpected page: %+v", page)
	}

	calls := node.methodCalls("suix_queryEvents")
	if len(calls) != 1 || len(calls[0].Params) != 4 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	var cursor web3.EventID
	if err := json.Unmarshal(calls[0].Params[1], &cursor); err != nil {
		t.Fatalf("decode cursor param: %v", err)
	}
	if cursor.TxDigest != "D1" || cursor.EventSeq != "0" {
		t.Fatalf("unexpected cursor param %+v", cursor)
	}
	if string(calls[0].Params[3]) != "false" {
		t.Fatalf("expected ascending order, got %s", calls[0].Params[3])
	}
}

func TestQueryEventsWithoutCursorSendsNull(t *testing.T) {
	node, srv := newFakeNode(t, map[string]rpcHandler{
		"suix_queryEvents": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"data": []any{}, "hasNextPage": false}, nil
		},
	})
	client := newTestClient(t, srv)

	if _, err := client.QueryEvents(context.Background(), web3.EventQuery{MoveEventType: "0x1::m::E"}); err != nil {
		t.Fatalf("query: %v", err)
	}
	calls := node.methodCalls("suix_queryEvents")
	if string(calls[0].Params[1]) != "null" {
		t.Fatalf("expected null cursor, got %s", calls[0].Params[1])
	}
}

func TestGetObjectNotFound(t *testing.T) {
	_, srv := newFakeNode(t, map[string]rpcHandler{
		"sui_getObject": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"error": map[string]string{"code": "notExists", "object_id": "0x9"}}, nil
		},
	})
	client := newTestClient(t, srv)

	_, err := client.GetObject(context.Background(), "0x9")
	if !stdErrors.Is(err, xerrors.Sentinel(xerrors.CodeNotFound)) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetObjectDecodesFields(t *testing.T) {
	_, srv := newFakeNode(t, map[string]rpcHandler{
		"sui_getObject": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"data": map[string]any{
				"objectId": "0x5", "version": "3", "digest": "dg",
				"type": "0xpkg::cluster::ClusterExecution",
				"content": map[string]any{
					"dataType": "moveObject",
					"fields":   map[string]any{"status": "RUNNING"},
				},
			}}, nil
		},
	})
	client := newTestClient(t, srv)

	obj, err := client.GetObject(context.Background(), "0x5")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.ObjectID != "0x5" || obj.Type != "0xpkg::cluster::ClusterExecution" {
		t.Fatalf("unexpected object %+v", obj)
	}
	var fields struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(obj.Fields, &fields); err != nil || fields.Status != "RUNNING" {
		t.Fatalf("unexpected fields %s (%v)", obj.Fields, err)
	}
}

func TestExecuteMoveCallSignsAndSubmits(t *testing.T) {
	txBytes := base64.StdEncoding.EncodeToString([]byte("tx"))
	node, srv := newFakeNode(t, map[string]rpcHandler{
		"unsafe_moveCall": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"txBytes": txBytes}, nil
		},
		"sui_executeTransactionBlock": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"digest": "TX1",
				"effects": map[string]any{
					"status":  map[string]string{"status": "success"},
					"created": []map[string]any{{"reference": map[string]string{"objectId": "0xnode", "version": "1", "digest": "d"}}},
				},
				"events": []map[string]any{{
					"id":         map[string]string{"txDigest": "TX1", "eventSeq": "0"},
					"type":       "0xpkg::cluster::ClusterCreatedEvent",
					"parsedJson": map[string]string{"cluster": "0xc", "owner_cap": "0xcap"},
				}},
			}, nil
		},
	})
	client := newTestClient(t, srv)

	res, err := client.ExecuteMoveCall(context.Background(), web3.MoveCall{
		Package: "0xpkg", Module: "cluster", Function: "create",
		Args: []any{"name", "desc"}, GasBudget: 1_000_000_000,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Digest != "TX1" || len(res.Created) != 1 || res.Created[0].ObjectID != "0xnode" {
		t.Fatalf("unexpected result %+v", res)
	}

	build := node.methodCalls("unsafe_moveCall")
	if len(build) != 1 {
		t.Fatalf("expected one build call, got %d", len(build))
	}
	var sender, budget string
	_ = json.Unmarshal(build[0].Params[0], &sender)
	_ = json.Unmarshal(build[0].Params[7], &budget)
	if sender != client.Sender() || budget != "1000000000" {
		t.Fatalf("unexpected build params sender=%s budget=%s", sender, budget)
	}

	exec := node.methodCalls("sui_executeTransactionBlock")
	var sigs []string
	if err := json.Unmarshal(exec[0].Params[1], &sigs); err != nil || len(sigs) != 1 {
		t.Fatalf("unexpected signatures param %s", exec[0].Params[1])
	}
	var requestType string
	_ = json.Unmarshal(exec[0].Params[3], &requestType)
	if requestType != DefaultRequestType {
		t.Fatalf("unexpected request type %q", requestType)
	}
}

func TestExecuteMoveCallRejected(t *testing.T) {
	txBytes := base64.StdEncoding.EncodeToString([]byte("tx"))
	_, srv := newFakeNode(t, map[string]rpcHandler{
		"unsafe_moveCall": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{"txBytes": txBytes}, nil
		},
		"sui_executeTransactionBlock": func([]json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"digest":  "TX2",
				"effects": map[string]any{"status": map[string]string{"status": "failure", "error": "MoveAbort(ENotOwner)"}},
			}, nil
		},
	})
	client := newTestClient(t, srv)

	res, err := client.ExecuteMoveCall(context.Background(), web3.MoveCall{Package: "0xpkg", Module: "cluster", Function: "execute"})
	if !stdErrors.Is(err, xerrors.Sentinel(xerrors.CodeRejected)) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if res.Error != "MoveAbort(ENotOwner)" || res.Digest != "TX2" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBuildErrorIsRejection(t *testing.T) {
	_, srv := newFakeNode(t, map[string]rpcHandler{
		"unsafe_moveCall": func([]json.RawMessage) (any, *rpcError) {
			return nil, &rpcError{Code: -32602, Message: "invalid argument"}
		},
	})
	client := newTestClient(t, srv)

	_, err := client.ExecuteMoveCall(context.Background(), web3.MoveCall{Package: "0xpkg", Module: "m", Function: "f"})
	if xerrors.CodeOf(err) != xerrors.CodeRejected {
		t.Fatalf("expected REJECTED, got %v", err)
	}
}

func TestFetchChainSnapshotBatch(t *testing.T) {
	_, srv := newFakeNode(t, map[string]rpcHandler{
		"sui_getChainIdentifier": func([]json.RawMessage) (any, *rpcError) {
			return "4c78adac", nil
		},
		"sui_getLatestCheckpointSequenceNumber": func([]json.RawMessage) (any, *rpcError) {
			return "1024", nil
		},
	})
	client := newTestClient(t, srv)

	snap, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ChainID != "4c78adac" || snap.Checkpoint != "1024" || snap.Notes != "test" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
