package contract

import "context"

// SignatureEntry is one row of an address's recent transaction history, in
// node order (most recent first).
type SignatureEntry struct {
	Signature string
	Slot      uint64
	Failed    bool
	BlockTime *int64
}

// ChainClient is the blockchain RPC collaborator. Implementations must
// return errors rather than panic; executors translate them into structured
// tool outputs.
type ChainClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	RecentSignatures(ctx context.Context, address string, limit int) ([]SignatureEntry, error)
	RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error)
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) error
}

// ChainFactory binds the RPC collaborator for the requested network.
type ChainFactory func(network Network) ChainClient

// WalletSigner is the wallet/auth collaborator. Rejection by the user or
// provider surfaces as an error, never a panic.
type WalletSigner interface {
	SignTransaction(ctx context.Context, walletID string, transaction []byte) ([]byte, error)
}
