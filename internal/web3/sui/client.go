package sui

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// DefaultRequestType waits until the fullnode has applied the effects so the
// created objects are immediately readable.
const DefaultRequestType = "WaitForLocalExecution"

// Config describes how to construct a Sui client.
type Config struct {
	Name        string
	RPCURL      string
	WSURL       string
	Notes       string
	Signer      *Signer
	RequestType string
}

// Client implements web3.Client against the Sui JSON-RPC API.
type Client struct {
	name        string
	notes       string
	requestType string
	rpcClient   *gethrpc.Client
	eventClient *gethrpc.Client
	signer      *Signer
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use
// client. When a websocket URL is configured and reachable, event queries go
// over it; otherwise they share the HTTP connection.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置 Sui RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "连接 Sui 节点失败")
	}

	eventClient := rpcClient
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			eventClient = wsRPC
		}
	}

	requestType := cfg.RequestType
	if requestType == "" {
		requestType = DefaultRequestType
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		requestType: requestType,
		rpcClient:   rpcClient,
		eventClient: eventClient,
		signer:      cfg.Signer,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventClient != nil && c.eventClient != c.rpcClient {
		c.eventClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.eventClient = nil
}

// Sender returns the address transactions are signed with.
func (c *Client) Sender() string {
	if c == nil {
		return ""
	}
	return c.signer.Address()
}

// FetchChainSnapshot gathers the chain identifier and latest checkpoint in a
// single batch round trip.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	var chainID, checkpoint string
	batch := []gethrpc.BatchElem{
		{Method: "sui_getChainIdentifier", Result: &chainID},
		{Method: "sui_getLatestCheckpointSequenceNumber", Result: &checkpoint},
	}
	if err := rpcClient.BatchCallContext(ctx, batch); err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeTransport, err, "获取链信息失败")
	}
	for _, elem := range batch {
		if elem.Error != nil {
			return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeTransport, elem.Error, elem.Method+" 调用失败")
		}
	}
	return web3.ChainSnapshot{ChainID: chainID, Checkpoint: checkpoint, Notes: c.notes}, nil
}

// QueryEvents fetches one page of events of the given Move type. The cursor
// is exclusive: the event it names is not part of the returned page.
func (c *Client) QueryEvents(ctx context.Context, query web3.EventQuery) (web3.EventPage, error) {
	c.mu.Lock()
	eventClient := c.eventClient
	c.mu.Unlock()
	if eventClient == nil {
		return web3.EventPage{}, xerrors.New(xerrors.CodeInitializationFailure, "Sui 客户端已关闭")
	}
	if strings.TrimSpace(query.MoveEventType) == "" {
		return web3.EventPage{}, xerrors.New(xerrors.CodeInvalidArgument, "事件类型不能为空")
	}

	filter := map[string]string{"MoveEventType": query.MoveEventType}
	var cursor any
	if query.Cursor != nil && !query.Cursor.IsZero() {
		cursor = *query.Cursor
	}
	var limit any
	if query.Limit > 0 {
		limit = query.Limit
	}

	var page web3.EventPage
	if err := eventClient.CallContext(ctx, &page, "suix_queryEvents", filter, cursor, limit, query.Descending); err != nil {
		return web3.EventPage{}, classifyRPCError(err, "查询事件失败")
	}
	return page, nil
}

type objectResponse struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Version  string `json:"version"`
		Digest   string `json:"digest"`
		Type     string `json:"type"`
		Content  *struct {
			DataType string          `json:"dataType"`
			Type     string          `json:"type"`
			Fields   json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		ObjectID string `json:"object_id"`
	} `json:"error"`
}

// GetObject fetches the Move content of an object.
func (c *Client) GetObject(ctx context.Context, id string) (web3.Object, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return web3.Object{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return web3.Object{}, xerrors.New(xerrors.CodeInvalidArgument, "对象 ID 不能为空")
	}

	var resp objectResponse
	opts := map[string]bool{"showContent": true, "showType": true}
	if err := rpcClient.CallContext(ctx, &resp, "sui_getObject", id, opts); err != nil {
		return web3.Object{}, classifyRPCError(err, "查询对象失败")
	}
	if resp.Error != nil {
		switch resp.Error.Code {
		case "notExists", "deleted", "dynamicFieldNotFound":
			return web3.Object{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("对象 %s 不存在", id),
				xerrors.WithMetadata("object_id", id), xerrors.WithMetadata("reason", resp.Error.Code))
		default:
			return web3.Object{}, xerrors.New(xerrors.CodeMalformed, fmt.Sprintf("对象 %s 查询返回错误 %s", id, resp.Error.Code))
		}
	}
	if resp.Data == nil {
		return web3.Object{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("对象 %s 不存在", id),
			xerrors.WithMetadata("object_id", id))
	}
	if resp.Data.Content == nil || resp.Data.Content.DataType != "moveObject" {
		return web3.Object{}, xerrors.New(xerrors.CodeMalformed, fmt.Sprintf("对象 %s 不是 Move 对象", id))
	}

	objType := resp.Data.Type
	if objType == "" {
		objType = resp.Data.Content.Type
	}
	return web3.Object{
		ObjectRef: web3.ObjectRef{ObjectID: resp.Data.ObjectID, Version: resp.Data.Version, Digest: resp.Data.Digest},
		Type:      objType,
		Fields:    resp.Data.Content.Fields,
	}, nil
}

type buildResponse struct {
	TxBytes string `json:"txBytes"`
}

type executeResponse struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
		Created []struct {
			Reference web3.ObjectRef `json:"reference"`
		} `json:"created"`
	} `json:"effects"`
	Events []web3.Event `json:"events"`
	Errors []string     `json:"errors"`
}

// ExecuteMoveCall builds the transaction on the node, signs it locally and
// submits it. A transaction whose effects report failure yields a REJECTED
// error alongside the partially filled result.
func (c *Client) ExecuteMoveCall(ctx context.Context, call web3.MoveCall) (web3.TransactionResult, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return web3.TransactionResult{}, err
	}
	if c.signer == nil {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeConfiguration, "未配置交易签名私钥")
	}
	if call.Package == "" || call.Module == "" || call.Function == "" {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeInvalidArgument, "Move 调用目标不完整")
	}

	typeArgs := call.TypeArgs
	if typeArgs == nil {
		typeArgs = []string{}
	}
	args := call.Args
	if args == nil {
		args = []any{}
	}

	var built buildResponse
	if err := rpcClient.CallContext(ctx, &built, "unsafe_moveCall",
		c.signer.Address(), call.Package, call.Module, call.Function,
		typeArgs, args, nil, strconv.FormatUint(call.GasBudget, 10),
	); err != nil {
		return web3.TransactionResult{}, classifyRPCError(err, "构建交易失败: "+call.Target())
	}
	if built.TxBytes == "" {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeMalformed, "节点未返回交易字节: "+call.Target())
	}

	signature, err := c.signer.SignTransaction(built.TxBytes)
	if err != nil {
		return web3.TransactionResult{}, xerrors.Wrap(xerrors.CodeMalformed, err, "签名交易失败")
	}

	var resp executeResponse
	opts := map[string]bool{"showEffects": true, "showEvents": true}
	if err := rpcClient.CallContext(ctx, &resp, "sui_executeTransactionBlock",
		built.TxBytes, []string{signature}, opts, c.requestType,
	); err != nil {
		return web3.TransactionResult{}, classifyRPCError(err, "提交交易失败: "+call.Target())
	}

	result := web3.TransactionResult{Digest: resp.Digest, Events: resp.Events}
	if resp.Effects != nil {
		result.Status = resp.Effects.Status.Status
		result.Error = resp.Effects.Status.Error
		for _, created := range resp.Effects.Created {
			result.Created = append(result.Created, created.Reference)
		}
	}
	if result.Error == "" && len(resp.Errors) > 0 {
		result.Error = strings.Join(resp.Errors, "; ")
	}
	if !result.Succeeded() {
		reason := result.Error
		if reason == "" {
			reason = "effects status " + result.Status
		}
		return result, xerrors.New(xerrors.CodeRejected, fmt.Sprintf("交易 %s 执行失败: %s", call.Target(), reason),
			xerrors.WithMetadata("digest", result.Digest))
	}
	return result, nil
}

func (c *Client) rpc() (*gethrpc.Client, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的 Sui 客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Sui 客户端已关闭")
	}
	return c.rpcClient, nil
}

// classifyRPCError separates errors reported by the node (the request reached
// it and was refused) from transport failures.
func classifyRPCError(err error, message string) error {
	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		return xerrors.Wrap(xerrors.CodeRejected, err, message,
			xerrors.WithMetadata("rpc_code", strconv.Itoa(rpcErr.ErrorCode())))
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeTransport, err, message)
}
