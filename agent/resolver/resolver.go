// Package resolver performs the server-side half of a deferred transfer:
// build the transfer, have the wallet provider sign it, submit it, and wait
// for confirmation. The result is always a structured outcome; the caller
// injects it back into the parked turn.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	"github.com/CallejaJ/solana-ai/pkg/solanarpc"
	"github.com/CallejaJ/solana-ai/pkg/soltx"
)

// ErrInFlight signals that the same tool call is already being settled.
// Callers treat it as an idempotent no-op rather than a failure.
var ErrInFlight = errors.New("resolver: tool call already in flight")

// Outcome is the terminal result of a deferred transfer, in the shape the
// model and the client both consume.
type Outcome struct {
	Confirmed bool    `json:"confirmed"`
	Signature *string `json:"signature"`
	Error     *string `json:"error"`
}

// SignRequest describes one transfer to settle. WalletID addresses the
// signing provider; WalletAddress is the on-chain sender.
type SignRequest struct {
	ToolCallID    string
	WalletID      string
	WalletAddress string
	Recipient     string
	AmountSOL     float64
	Network       contractx.Network
}

type Resolver struct {
	chains contractx.ChainFactory
	signer contractx.WalletSigner

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(chains contractx.ChainFactory, signer contractx.WalletSigner) (*Resolver, error) {
	if chains == nil {
		return nil, errors.New("chain factory is required")
	}
	if signer == nil {
		return nil, errors.New("wallet signer is required")
	}
	return &Resolver{
		chains:   chains,
		signer:   signer,
		inflight: make(map[string]struct{}),
	}, nil
}

// SignAndSend settles one transfer end to end. Every failure folds into a
// failed Outcome so the turn can resume with a model-readable result; only
// a concurrent duplicate of the same tool call returns an error.
func (r *Resolver) SignAndSend(ctx context.Context, req SignRequest) (Outcome, error) {
	r.mu.Lock()
	if _, dup := r.inflight[req.ToolCallID]; dup {
		r.mu.Unlock()
		return Outcome{}, ErrInFlight
	}
	r.inflight[req.ToolCallID] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, req.ToolCallID)
		r.mu.Unlock()
	}()

	if err := validate(req); err != nil {
		return failure(err.Error()), nil
	}

	chain := r.chains(req.Network)
	lamports := uint64(math.Round(req.AmountSOL * solanarpc.LamportsPerSOL))

	blockhash, err := chain.GetLatestBlockhash(ctx)
	if err != nil {
		log.Warn().Err(err).Str("tool_call_id", req.ToolCallID).Msg("blockhash fetch failed")
		return failure("failed to fetch recent blockhash"), nil
	}

	unsigned, err := soltx.BuildTransfer(req.WalletAddress, req.Recipient, blockhash, lamports)
	if err != nil {
		return failure(fmt.Sprintf("failed to build transaction: %v", err)), nil
	}

	signed, err := r.signer.SignTransaction(ctx, req.WalletID, unsigned)
	if err != nil {
		log.Warn().Err(err).Str("tool_call_id", req.ToolCallID).Msg("wallet signing failed")
		return failure("transaction signing was rejected"), nil
	}

	signature, err := chain.SendRawTransaction(ctx, signed)
	if err != nil {
		log.Warn().Err(err).Str("tool_call_id", req.ToolCallID).Msg("transaction submit failed")
		return failure("failed to submit transaction"), nil
	}

	if err := chain.ConfirmTransaction(ctx, signature); err != nil {
		log.Warn().Err(err).Str("signature", signature).Msg("transaction not confirmed")
		return failure("transaction was submitted but not confirmed"), nil
	}

	log.Info().
		Str("signature", signature).
		Str("network", string(req.Network)).
		Msg("transfer confirmed")
	return Outcome{Confirmed: true, Signature: &signature}, nil
}

func validate(req SignRequest) error {
	if strings.TrimSpace(req.WalletID) == "" {
		return errors.New("no signing wallet connected")
	}
	if _, err := soltx.DecodeAddress(req.WalletAddress); err != nil {
		return errors.New("invalid sender address")
	}
	if _, err := soltx.DecodeAddress(req.Recipient); err != nil {
		return errors.New("invalid recipient address")
	}
	if req.AmountSOL <= 0 {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

func failure(msg string) Outcome {
	return Outcome{Confirmed: false, Error: &msg}
}
