package contract

import (
	"encoding/json"
	"strings"
)

// Network selects the RPC endpoint, the tool catalog (airdrop is
// devnet-only), and the system prompt wording. All three derive from this
// one value so they cannot drift apart.
type Network string

const (
	NetworkDevnet  Network = "devnet"
	NetworkMainnet Network = "mainnet"
)

// ParseNetwork mirrors the request contract: anything other than "mainnet"
// is devnet.
func ParseNetwork(s string) Network {
	if strings.EqualFold(strings.TrimSpace(s), string(NetworkMainnet)) {
		return NetworkMainnet
	}
	return NetworkDevnet
}

// ClusterParam is the explorer URL query suffix for this network.
func (n Network) ClusterParam() string {
	if n == NetworkMainnet {
		return ""
	}
	return "?cluster=devnet"
}

// ExplorerTxURL builds the Solana explorer link for a transaction.
func (n Network) ExplorerTxURL(signature string) string {
	return "https://explorer.solana.com/tx/" + signature + n.ClusterParam()
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartText     PartType = "text"
	PartToolCall PartType = "tool-call"
)

// CallState is the lifecycle of a tool-call part. Transitions only move
// forward: pending-input -> invoked -> fulfilled | failed.
type CallState string

const (
	CallPendingInput CallState = "pending-input"
	CallInvoked      CallState = "invoked"
	CallFulfilled    CallState = "fulfilled"
	CallFailed       CallState = "failed"
)

// Part is one element of a message: either text or a tool call with its
// eventual output.
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      CallState       `json:"state,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:  role,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// ChatRequest is one conversation turn from the boundary.
type ChatRequest struct {
	SessionID     string    `json:"sessionId"`
	Messages      []Message `json:"messages"`
	WalletAddress string    `json:"walletAddress"`
	Network       Network   `json:"network"`
}

// Injection resolves one deferred tool call out of band.
type Injection struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Output     json.RawMessage `json:"output"`
}

type EventType string

const (
	EventTextDelta  EventType = "text-delta"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventFinish     EventType = "finish"
)

// FinishReason is the terminal state of a streamed turn. AwaitingInput is
// terminal for the stream only; the run itself resumes on injection.
type FinishReason string

const (
	FinishDone          FinishReason = "done"
	FinishAwaitingInput FinishReason = "awaiting-input"
	FinishStopped       FinishReason = "stopped-by-budget"
	FinishFailed        FinishReason = "failed"
)

// StreamEvent is one increment of the outbound turn stream. The boundary
// can rebuild the full message/part structure from these alone.
type StreamEvent struct {
	Type EventType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	Reason FinishReason `json:"reason,omitempty"`
}
