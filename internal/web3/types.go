package web3

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// ChainSnapshot represents summarized network metadata for logging at startup.
type ChainSnapshot struct {
	ChainID    string
	Checkpoint string
	Notes      string
}

// EventID identifies an event on chain and doubles as the pagination cursor.
type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// IsZero reports whether the id is unset.
func (id EventID) IsZero() bool {
	return id.TxDigest == "" && id.EventSeq == ""
}

// String renders the id as digest:seq.
func (id EventID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.TxDigest + ":" + id.EventSeq
}

// Event is a single Move event as returned by the node.
type Event struct {
	ID          EventID         `json:"id"`
	PackageID   string          `json:"packageId"`
	Module      string          `json:"transactionModule"`
	Sender      string          `json:"sender"`
	Type        string          `json:"type"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
	TimestampMs string          `json:"timestampMs,omitempty"`
}

// EventQuery filters events by their fully qualified Move type.
type EventQuery struct {
	MoveEventType string
	Cursor        *EventID
	Limit         int
	Descending    bool
}

// EventPage is one page of events in the requested order.
type EventPage struct {
	Data        []Event  `json:"data"`
	NextCursor  *EventID `json:"nextCursor"`
	HasNextPage bool     `json:"hasNextPage"`
}

// ObjectRef points at a specific version of an object.
type ObjectRef struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
}

// Object is the decoded content of an on-chain Move object.
type Object struct {
	ObjectRef
	Type   string          `json:"type"`
	Fields json.RawMessage `json:"fields"`
}

// MoveCall describes a call to a public entry function.
type MoveCall struct {
	Package   string
	Module    string
	Function  string
	TypeArgs  []string
	Args      []any
	GasBudget uint64
}

// Target returns package::module::function.
func (c MoveCall) Target() string {
	return c.Package + "::" + c.Module + "::" + c.Function
}

// TransactionResult summarizes the effects of an executed transaction.
type TransactionResult struct {
	Digest  string
	Status  string
	Error   string
	Events  []Event
	Created []ObjectRef
}

// Succeeded reports whether the transaction effects report success.
func (r TransactionResult) Succeeded() bool {
	return strings.EqualFold(r.Status, "success")
}

// FindEvent returns the first event whose type ends with the given suffix,
// e.g. "::cluster::ClusterCreatedEvent".
func (r TransactionResult) FindEvent(suffix string) (Event, bool) {
	for _, ev := range r.Events {
		if strings.HasSuffix(ev.Type, suffix) {
			return ev, true
		}
	}
	return Event{}, false
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	QueryEvents(ctx context.Context, query EventQuery) (EventPage, error)
	GetObject(ctx context.Context, id string) (Object, error)
	ExecuteMoveCall(ctx context.Context, call MoveCall) (TransactionResult, error)
	Sender() string
	Close()
}

// U64 decodes a Move u64 that the node may render either as a JSON string or
// as a JSON number.
type U64 uint64

// UnmarshalJSON implements json.Unmarshaler.
func (u *U64) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return err
	}
	*u = U64(v)
	return nil
}

// MarshalJSON renders the value as a decimal string, the form Move call
// arguments expect.
func (u U64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}
