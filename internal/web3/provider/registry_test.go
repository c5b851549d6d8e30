package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"Nexus-Chain/internal/config"
	"Nexus-Chain/internal/web3"
	"Nexus-Chain/internal/web3/sui"
)

type stubClient struct {
	web3.Client
	cfg    sui.Config
	closed bool
}

func (s *stubClient) Close() { s.closed = true }

func recordingDialer(dialed *[]*stubClient) Dialer {
	return func(_ context.Context, cfg sui.Config) (web3.Client, error) {
		c := &stubClient{cfg: cfg}
		*dialed = append(*dialed, c)
		return c, nil
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	var dialed []*stubClient
	reg, err := newRegistry(context.Background(), config.ChainConfig{RPCURL: "http://localhost:9000", WSURL: "ws://localhost:9000"}, nil, recordingDialer(&dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := reg.Chains(); len(got) != 1 || got[0] != "default" {
		t.Fatalf("unexpected chains %v", got)
	}
	if dialed[0].cfg.WSURL != "ws://localhost:9000" {
		t.Fatalf("ws url not forwarded: %+v", dialed[0].cfg)
	}
	reg.Close()
	if !dialed[0].closed {
		t.Fatal("expected client to be closed")
	}
}

func TestRegistryLoadsYAMLDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := "chains:\n  testnet:\n    type: sui\n    rpc_url: https://fullnode.testnet.sui.io\n  localnet:\n    rpc_url: http://localhost:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var dialed []*stubClient
	reg, err := newRegistry(context.Background(), config.ChainConfig{ChainConfig: path, DefaultChain: "testnet"}, nil, recordingDialer(&dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	client, err := reg.DefaultClient()
	if err != nil {
		t.Fatalf("default client: %v", err)
	}
	if client.(*stubClient).cfg.Name != "testnet" {
		t.Fatalf("unexpected default %+v", client.(*stubClient).cfg)
	}
	if _, ok := reg.Client("localnet"); !ok {
		t.Fatal("expected localnet client")
	}
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	var dialed []*stubClient
	_, err := newRegistry(context.Background(), config.ChainConfig{RPCURL: "http://x", DefaultChain: "mainnet"}, nil, recordingDialer(&dialed))
	if err == nil {
		t.Fatal("expected error for unknown default chain")
	}
	if !dialed[0].closed {
		t.Fatal("expected dialed clients to be closed on failure")
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	var dialed []*stubClient
	if _, err := newRegistry(context.Background(), config.ChainConfig{}, nil, recordingDialer(&dialed)); err == nil {
		t.Fatal("expected error without endpoints")
	}
}
