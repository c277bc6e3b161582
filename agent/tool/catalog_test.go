package tool

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

const (
	validAddress     = "So11111111111111111111111111111111111111112"
	validRecipient   = "11111111111111111111111111111111"
	sampleSignature  = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	expectedPreview  = "5VERv8NMvzbJMEkV8xnr..."
	balanceLamports  = 2_500_000_000
)

type fakeChain struct {
	balance      uint64
	balanceErr   error
	entries      []contractx.SignatureEntry
	entriesErr   error
	gotLimit     int
	airdropSig   string
	airdropErr   error
	confirmErr   error
	gotAirdrop   uint64
	airdropCalls int
}

func (f *fakeChain) GetBalance(_ context.Context, _ string) (uint64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeChain) RecentSignatures(_ context.Context, _ string, limit int) ([]contractx.SignatureEntry, error) {
	f.gotLimit = limit
	return f.entries, f.entriesErr
}

func (f *fakeChain) RequestAirdrop(_ context.Context, _ string, lamports uint64) (string, error) {
	f.airdropCalls++
	f.gotAirdrop = lamports
	return f.airdropSig, f.airdropErr
}

func (f *fakeChain) GetLatestBlockhash(_ context.Context) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeChain) SendRawTransaction(_ context.Context, _ []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeChain) ConfirmTransaction(_ context.Context, _ string) error {
	return f.confirmErr
}

func TestBuildForNetworkDevnetCatalog(t *testing.T) {
	t.Parallel()

	registry := BuildForNetwork(contractx.NetworkDevnet, &fakeChain{})
	infos := registry.Infos()
	if len(infos) != 4 {
		t.Fatalf("expected 4 tools on devnet, got %d", len(infos))
	}

	airdrop, ok := registry.Lookup(ToolRequestAirdrop)
	if !ok {
		t.Fatal("requestAirdrop must exist on devnet")
	}
	if airdrop.Deferred() {
		t.Fatal("requestAirdrop must be executable")
	}

	send, ok := registry.Lookup(ToolSendTransaction)
	if !ok {
		t.Fatal("sendTransaction must exist")
	}
	if !send.Deferred() {
		t.Fatal("sendTransaction must be deferred")
	}
}

func TestBuildForNetworkMainnetExcludesAirdrop(t *testing.T) {
	t.Parallel()

	registry := BuildForNetwork(contractx.NetworkMainnet, &fakeChain{})
	if len(registry.Infos()) != 3 {
		t.Fatalf("expected 3 tools on mainnet, got %d", len(registry.Infos()))
	}
	if _, ok := registry.Lookup(ToolRequestAirdrop); ok {
		t.Fatal("requestAirdrop must not exist on mainnet")
	}
}

func TestBalanceExecutorConvertsLamports(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{balance: balanceLamports}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolGetBalance)

	out := decl.Execute(context.Background(), map[string]any{"address": validAddress})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	if out["balance"] != 2.5 {
		t.Fatalf("balance = %v, want 2.5", out["balance"])
	}
	if out["lamports"] != uint64(balanceLamports) {
		t.Fatalf("lamports = %v, want %d", out["lamports"], balanceLamports)
	}
	if out["cluster"] != "devnet" {
		t.Fatalf("cluster = %v, want devnet", out["cluster"])
	}
}

func TestBalanceExecutorInvalidAddress(t *testing.T) {
	t.Parallel()

	registry := BuildForNetwork(contractx.NetworkDevnet, &fakeChain{})
	decl, _ := registry.Lookup(ToolGetBalance)

	out := decl.Execute(context.Background(), map[string]any{"address": "not-base58!"})
	if out["error"] != "Invalid address or failed to fetch balance" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestHistoryExecutorMapsEntries(t *testing.T) {
	t.Parallel()

	blockTime := int64(1_700_000_000)
	chain := &fakeChain{
		entries: []contractx.SignatureEntry{
			{Signature: sampleSignature, Slot: 42, Failed: false, BlockTime: &blockTime},
			{Signature: "short", Slot: 41, Failed: true},
		},
	}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolGetTransactionHistory)

	out := decl.Execute(context.Background(), map[string]any{
		"address": validAddress,
		"limit":   float64(3),
	})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	if chain.gotLimit != 3 {
		t.Fatalf("limit = %d, want 3", chain.gotLimit)
	}

	transactions, ok := out["transactions"].([]map[string]any)
	if !ok || len(transactions) != 2 {
		t.Fatalf("unexpected transactions: %#v", out["transactions"])
	}

	first := transactions[0]
	if first["signature"] != expectedPreview {
		t.Fatalf("signature preview = %v, want %v", first["signature"], expectedPreview)
	}
	if first["fullSignature"] != sampleSignature {
		t.Fatalf("fullSignature = %v", first["fullSignature"])
	}
	if first["err"] != "Success" {
		t.Fatalf("err = %v, want Success", first["err"])
	}
	if first["explorerUrl"] != "https://explorer.solana.com/tx/"+sampleSignature+"?cluster=devnet" {
		t.Fatalf("unexpected explorer url: %v", first["explorerUrl"])
	}
	if first["blockTime"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("blockTime = %v", first["blockTime"])
	}

	second := transactions[1]
	if second["signature"] != "short" {
		t.Fatalf("short signature must not be truncated: %v", second["signature"])
	}
	if second["err"] != "Failed" {
		t.Fatalf("err = %v, want Failed", second["err"])
	}
	if second["blockTime"] != nil {
		t.Fatalf("blockTime = %v, want nil", second["blockTime"])
	}
}

func TestHistoryExecutorLimitBounds(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolGetTransactionHistory)

	out := decl.Execute(context.Background(), map[string]any{
		"address": validAddress,
		"limit":   float64(11),
	})
	if out["error"] != "limit must be between 1 and 10" {
		t.Fatalf("unexpected output: %v", out)
	}
	if chain.gotLimit != 0 {
		t.Fatal("chain must not be called for an out-of-range limit")
	}
}

func TestAirdropExecutorRejectsOutOfRangeAmount(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolRequestAirdrop)

	out := decl.Execute(context.Background(), map[string]any{
		"address": validAddress,
		"amount":  float64(5),
	})
	if out["error"] == nil {
		t.Fatalf("expected validation error, got %v", out)
	}
	if chain.airdropCalls != 0 {
		t.Fatal("faucet must not be called for an invalid amount")
	}
}

func TestAirdropExecutorSuccess(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{airdropSig: sampleSignature}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolRequestAirdrop)

	out := decl.Execute(context.Background(), map[string]any{
		"address": validRecipient,
		"amount":  0.5,
	})
	if out["success"] != true {
		t.Fatalf("unexpected output: %v", out)
	}
	if chain.gotAirdrop != 500_000_000 {
		t.Fatalf("lamports = %d, want 500000000", chain.gotAirdrop)
	}
	if out["explorerUrl"] != "https://explorer.solana.com/tx/"+sampleSignature+"?cluster=devnet" {
		t.Fatalf("unexpected explorer url: %v", out["explorerUrl"])
	}
}

func TestAirdropExecutorFaucetFailure(t *testing.T) {
	t.Parallel()

	chain := &fakeChain{airdropErr: errors.New("rate limited")}
	registry := BuildForNetwork(contractx.NetworkDevnet, chain)
	decl, _ := registry.Lookup(ToolRequestAirdrop)

	out := decl.Execute(context.Background(), map[string]any{
		"address": validAddress,
		"amount":  1.0,
	})
	if out["success"] != false {
		t.Fatalf("unexpected output: %v", out)
	}
	if out["error"] != "Airdrop failed. Devnet faucet may be rate-limited, try again later." {
		t.Fatalf("unexpected error message: %v", out["error"])
	}
}
