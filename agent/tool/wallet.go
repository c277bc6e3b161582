package tool

import (
	"context"
	"fmt"
	"math"
	"time"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	"github.com/CallejaJ/solana-ai/pkg/solanarpc"
	"github.com/CallejaJ/solana-ai/pkg/soltx"
)

const signaturePreviewLen = 20

func balanceExecutor(chain contractx.ChainClient, network contractx.Network) Executor {
	return func(ctx context.Context, args map[string]any) map[string]any {
		address, ok := stringArg(args, "address")
		if !ok {
			return map[string]any{"error": "Invalid address or failed to fetch balance"}
		}
		if _, err := soltx.DecodeAddress(address); err != nil {
			return map[string]any{"error": "Invalid address or failed to fetch balance"}
		}

		lamports, err := chain.GetBalance(ctx, address)
		if err != nil {
			return map[string]any{"error": "Invalid address or failed to fetch balance"}
		}

		return map[string]any{
			"address":  address,
			"balance":  float64(lamports) / solanarpc.LamportsPerSOL,
			"lamports": lamports,
			"cluster":  string(network),
		}
	}
}

func historyExecutor(chain contractx.ChainClient, network contractx.Network) Executor {
	return func(ctx context.Context, args map[string]any) map[string]any {
		address, ok := stringArg(args, "address")
		if !ok {
			return map[string]any{"error": "Failed to fetch transaction history"}
		}
		if _, err := soltx.DecodeAddress(address); err != nil {
			return map[string]any{"error": "Failed to fetch transaction history"}
		}
		limit, ok := numberArg(args, "limit")
		if !ok || limit < MinHistoryLimit || limit > MaxHistoryLimit {
			return map[string]any{
				"error": fmt.Sprintf("limit must be between %d and %d", MinHistoryLimit, MaxHistoryLimit),
			}
		}

		entries, err := chain.RecentSignatures(ctx, address, int(limit))
		if err != nil {
			return map[string]any{"error": "Failed to fetch transaction history"}
		}

		transactions := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			status := "Success"
			if entry.Failed {
				status = "Failed"
			}

			var blockTime any
			if entry.BlockTime != nil {
				blockTime = time.Unix(*entry.BlockTime, 0).UTC().Format(time.RFC3339)
			}

			transactions = append(transactions, map[string]any{
				"signature":     previewSignature(entry.Signature),
				"fullSignature": entry.Signature,
				"slot":          entry.Slot,
				"err":           status,
				"blockTime":     blockTime,
				"explorerUrl":   network.ExplorerTxURL(entry.Signature),
			})
		}

		return map[string]any{
			"address":      address,
			"transactions": transactions,
		}
	}
}

func airdropExecutor(chain contractx.ChainClient, network contractx.Network) Executor {
	return func(ctx context.Context, args map[string]any) map[string]any {
		address, ok := stringArg(args, "address")
		if !ok {
			return map[string]any{"error": "address is required"}
		}
		if _, err := soltx.DecodeAddress(address); err != nil {
			return map[string]any{"error": "invalid airdrop address"}
		}
		amount, ok := numberArg(args, "amount")
		if !ok || amount < MinAirdropSOL || amount > MaxAirdropSOL {
			return map[string]any{
				"error": fmt.Sprintf("amount must be between %v and %v SOL", MinAirdropSOL, MaxAirdropSOL),
			}
		}

		lamports := uint64(math.Round(amount * solanarpc.LamportsPerSOL))
		signature, err := chain.RequestAirdrop(ctx, address, lamports)
		if err == nil {
			err = chain.ConfirmTransaction(ctx, signature)
		}
		if err != nil {
			return map[string]any{
				"success": false,
				"error":   "Airdrop failed. Devnet faucet may be rate-limited, try again later.",
			}
		}

		return map[string]any{
			"success":     true,
			"signature":   signature,
			"amount":      amount,
			"address":     address,
			"explorerUrl": network.ExplorerTxURL(signature),
		}
	}
}

func previewSignature(signature string) string {
	if len(signature) <= signaturePreviewLen {
		return signature
	}
	return signature[:signaturePreviewLen] + "..."
}

func stringArg(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func numberArg(args map[string]any, key string) (float64, bool) {
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
