package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

//go:embed template/system.txt
var systemRaw string

var systemTmpl = template.Must(template.New("system").Parse(strings.TrimSpace(systemRaw)))

// Params feed the system prompt. Network here is the same value that built
// the tool registry, so the prompt never advertises an unavailable tool.
type Params struct {
	Network       contractx.Network
	WalletAddress string
}

// RenderSystem produces the system prompt for one turn.
func RenderSystem(p Params) (string, error) {
	wallet := strings.TrimSpace(p.WalletAddress)
	if wallet == "" {
		wallet = "Not connected"
	}

	var sb strings.Builder
	err := systemTmpl.Execute(&sb, map[string]any{
		"Network": string(p.Network),
		"Wallet":  wallet,
		"Mainnet": p.Network == contractx.NetworkMainnet,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return sb.String(), nil
}
