package tool

import (
	"context"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

const (
	ToolGetBalance            = "getBalance"
	ToolRequestAirdrop        = "requestAirdrop"
	ToolSendTransaction       = "sendTransaction"
	ToolGetTransactionHistory = "getTransactionHistory"
)

// Faucet and history bounds, enforced before any RPC call.
const (
	MinAirdropSOL   = 0.1
	MaxAirdropSOL   = 2.0
	MinHistoryLimit = 1
	MaxHistoryLimit = 10
)

// Executor runs one validated tool call. It never returns an error: every
// failure mode becomes a structured output the model can read.
type Executor func(ctx context.Context, args map[string]any) map[string]any

// Declaration pairs a tool schema with its optional executor. A nil
// executor marks a deferred tool: the orchestrator surfaces the call to the
// boundary instead of invoking it.
type Declaration struct {
	Info    *schema.ToolInfo
	Execute Executor
}

func (d *Declaration) Deferred() bool {
	return d.Execute == nil
}

// Registry is the fixed tool set in effect for one request.
type Registry struct {
	decls  []*Declaration
	byName map[string]*Declaration
}

func newRegistry(decls ...*Declaration) *Registry {
	byName := make(map[string]*Declaration, len(decls))
	for _, d := range decls {
		byName[d.Info.Name] = d
	}
	return &Registry{decls: decls, byName: byName}
}

func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.decls))
	for _, d := range r.decls {
		infos = append(infos, d.Info)
	}
	return infos
}

func (r *Registry) Lookup(name string) (*Declaration, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// BuildForNetwork assembles the catalog for one request. The airdrop tool
// exists only on devnet; the same network value feeds the system prompt so
// registry and prompt cannot skew.
func BuildForNetwork(network contractx.Network, chain contractx.ChainClient) *Registry {
	decls := []*Declaration{
		{
			Info: &schema.ToolInfo{
				Name: ToolGetBalance,
				Desc: "Get the SOL balance for a Solana wallet address. Use this when the user asks to check their balance or any wallet balance.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"address": {Type: schema.String, Desc: "The Solana wallet public key address to check balance for", Required: true},
				}),
			},
			Execute: balanceExecutor(chain, network),
		},
		{
			Info: &schema.ToolInfo{
				Name: ToolSendTransaction,
				Desc: "Prepare a SOL transfer transaction. This will ask the user to confirm and sign on the client side. Use when the user wants to send SOL to another address.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"recipientAddress": {Type: schema.String, Desc: "The recipient Solana wallet address", Required: true},
					"amount":           {Type: schema.Number, Desc: "Amount of SOL to send", Required: true},
				}),
			},
			// No executor: resolved by the boundary after user signing.
		},
		{
			Info: &schema.ToolInfo{
				Name: ToolGetTransactionHistory,
				Desc: "Get recent transaction signatures for a wallet address. Use when the user asks about their transaction history or recent activity.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"address": {Type: schema.String, Desc: "The Solana wallet address to get transaction history for", Required: true},
					"limit":   {Type: schema.Number, Desc: "Number of recent transactions to fetch (1-10)", Required: true},
				}),
			},
			Execute: historyExecutor(chain, network),
		},
	}

	if network == contractx.NetworkDevnet {
		decls = append(decls, &Declaration{
			Info: &schema.ToolInfo{
				Name: ToolRequestAirdrop,
				Desc: "Request a devnet SOL airdrop (faucet) to a wallet address. Only works on devnet. Use when user asks for free SOL or test tokens.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"address": {Type: schema.String, Desc: "The Solana wallet public key address to airdrop SOL to", Required: true},
					"amount":  {Type: schema.Number, Desc: "Amount of SOL to airdrop (0.1 to 2)", Required: true},
				}),
			},
			Execute: airdropExecutor(chain, network),
		})
	}

	return newRegistry(decls...)
}
