// Package chain adapts the Solana JSON-RPC client to the collaborator
// interface the tool executors consume.
package chain

import (
	"context"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	"github.com/CallejaJ/solana-ai/pkg/solanarpc"
)

type RPCAdapter struct {
	client *solanarpc.Client
}

var _ contractx.ChainClient = (*RPCAdapter)(nil)

func New(client *solanarpc.Client) *RPCAdapter {
	return &RPCAdapter{client: client}
}

func (a *RPCAdapter) GetBalance(ctx context.Context, address string) (uint64, error) {
	return a.client.GetBalance(ctx, address)
}

func (a *RPCAdapter) RecentSignatures(ctx context.Context, address string, limit int) ([]contractx.SignatureEntry, error) {
	infos, err := a.client.GetSignaturesForAddress(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]contractx.SignatureEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, contractx.SignatureEntry{
			Signature: info.Signature,
			Slot:      info.Slot,
			Failed:    info.Failed(),
			BlockTime: info.BlockTime,
		})
	}
	return entries, nil
}

func (a *RPCAdapter) RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error) {
	return a.client.RequestAirdrop(ctx, address, lamports)
}

func (a *RPCAdapter) GetLatestBlockhash(ctx context.Context) (string, error) {
	return a.client.GetLatestBlockhash(ctx)
}

func (a *RPCAdapter) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	return a.client.SendRawTransaction(ctx, raw)
}

func (a *RPCAdapter) ConfirmTransaction(ctx context.Context, signature string) error {
	return a.client.ConfirmTransaction(ctx, signature)
}
