package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	sessionx "github.com/CallejaJ/solana-ai/agent/session"
	toolx "github.com/CallejaJ/solana-ai/agent/tool"
)

const (
	// DefaultStepBudget bounds model/tool rounds within one turn.
	DefaultStepBudget = 5

	// DefaultPendingTTL expires a turn abandoned in the signing UI.
	DefaultPendingTTL = 10 * time.Minute

	eventBufferSize = 32
)

type Config struct {
	StepBudget int
	PendingTTL time.Duration
}

// Runner drives conversation turns: it asks the model for the next step,
// executes executable tools inline, and parks turns whose step contains
// deferred calls until the boundary injects their outputs.
type Runner struct {
	model  einomodel.ToolCallingChatModel
	chains contractx.ChainFactory
	store  sessionx.Store

	graphRunner compose.Runnable[turnInput, turnOutput]

	budget int
	ttl    time.Duration

	mu    sync.Mutex
	turns map[string]*turn
}

type turnState string

const (
	stateAwaitingModel turnState = "awaiting-model"
	stateAwaitingInput turnState = "awaiting-input"
	stateDone          turnState = "done"
	stateStopped       turnState = "stopped"
	stateFailed        turnState = "failed"
)

type pendingCall struct {
	name  string
	input json.RawMessage
}

// turn is one in-flight conversation exchange. Fields are guarded by mu;
// the step loop holds it only around mutations, never across model calls.
type turn struct {
	mu sync.Mutex

	sessionID string
	network   contractx.Network

	model    einomodel.ToolCallingChatModel
	registry *toolx.Registry

	history []*schema.Message
	record  []contractx.Message

	steps   int
	state   turnState
	pending map[string]pendingCall
	expiry  *time.Timer
}

func New(model einomodel.ToolCallingChatModel, chains contractx.ChainFactory, store sessionx.Store, cfg Config) (*Runner, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	if chains == nil {
		return nil, errors.New("chain factory is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}

	budget := cfg.StepBudget
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	r := &Runner{
		model:  model,
		chains: chains,
		store:  store,
		budget: budget,
		ttl:    ttl,
		turns:  make(map[string]*turn),
	}

	graphRunner, err := r.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	r.graphRunner = graphRunner

	return r, nil
}

// StartTurn begins a new conversation turn and returns its event stream.
// The stream ends with a finish event whose reason is the terminal state of
// the stream: done, stopped-by-budget, failed, or awaiting-input when a
// deferred call parked the turn.
func (r *Runner) StartTurn(ctx context.Context, req contractx.ChatRequest) (<-chan contractx.StreamEvent, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", contractx.ErrValidation)
	}

	ch := make(chan contractx.StreamEvent, eventBufferSize)
	go func() {
		defer close(ch)
		emit := emitTo(ctx, ch)
		if _, err := r.graphRunner.Invoke(ctx, turnInput{req: req, emit: emit}); err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("turn failed")
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishFailed})
		}
	}()
	return ch, nil
}

// Resolve injects the output of one deferred tool call. Unknown turns
// return ErrTurnNotFound; duplicate or mismatched injections return
// ErrNoPendingCall so the boundary can treat them as idempotent no-ops.
// When the last deferred call of the step resolves, the step loop resumes
// on the returned stream.
func (r *Runner) Resolve(ctx context.Context, inj contractx.Injection) (<-chan contractx.StreamEvent, error) {
	r.mu.Lock()
	t := r.turns[inj.SessionID]
	r.mu.Unlock()
	if t == nil {
		return nil, contractx.ErrTurnNotFound
	}

	t.mu.Lock()
	if t.state != stateAwaitingInput {
		t.mu.Unlock()
		return nil, contractx.ErrNoPendingCall
	}
	pc, ok := t.pending[inj.ToolCallID]
	if !ok || (inj.ToolName != "" && inj.ToolName != pc.name) {
		t.mu.Unlock()
		return nil, contractx.ErrNoPendingCall
	}

	delete(t.pending, inj.ToolCallID)
	output := inj.Output
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	t.history = append(t.history, schema.ToolMessage(string(output), inj.ToolCallID))
	t.resolveRecordedCall(inj.ToolCallID, output)
	remaining := len(t.pending)
	if remaining == 0 {
		t.state = stateAwaitingModel
		if t.expiry != nil {
			t.expiry.Stop()
			t.expiry = nil
		}
	}
	t.mu.Unlock()

	r.saveSnapshot(ctx, t)

	ch := make(chan contractx.StreamEvent, eventBufferSize)
	go func() {
		defer close(ch)
		emit := emitTo(ctx, ch)
		emit(contractx.StreamEvent{
			Type:       contractx.EventToolResult,
			ToolCallID: inj.ToolCallID,
			ToolName:   pc.name,
			Output:     output,
		})
		if remaining > 0 {
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishAwaitingInput})
			return
		}
		r.loop(ctx, t, emit)
	}()
	return ch, nil
}

// resolveRecordedCall flips the persisted tool-call part to its terminal
// state. Caller holds t.mu.
func (t *turn) resolveRecordedCall(toolCallID string, output json.RawMessage) {
	state := contractx.CallFulfilled
	var probe struct {
		Confirmed *bool  `json:"confirmed"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(output, &probe); err == nil {
		if probe.Error != "" || (probe.Confirmed != nil && !*probe.Confirmed) {
			state = contractx.CallFailed
		}
	}

	for i := range t.record {
		for j := range t.record[i].Parts {
			part := &t.record[i].Parts[j]
			if part.Type == contractx.PartToolCall && part.ToolCallID == toolCallID {
				part.State = state
				part.Output = output
				return
			}
		}
	}
}

func (r *Runner) saveSnapshot(ctx context.Context, t *turn) {
	t.mu.Lock()
	record := make([]contractx.Message, len(t.record))
	copy(record, t.record)
	sessionID := t.sessionID
	t.mu.Unlock()

	// Persistence failures degrade silently: the conversation continues and
	// the next successful save recovers.
	if err := r.store.Save(context.WithoutCancel(ctx), sessionID, record); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session save failed")
	}
}

func (r *Runner) removeTurn(t *turn) {
	r.mu.Lock()
	if current := r.turns[t.sessionID]; current == t {
		delete(r.turns, t.sessionID)
	}
	r.mu.Unlock()
}

// expireTurn fires when a parked turn outlives the pending TTL: every
// still-pending call resolves to a synthetic failure so the run reaches a
// terminal state instead of blocking the conversation forever.
func (r *Runner) expireTurn(t *turn) {
	t.mu.Lock()
	if t.state != stateAwaitingInput {
		t.mu.Unlock()
		return
	}
	failure := json.RawMessage(`{"confirmed":false,"signature":null,"error":"signing expired"}`)
	for id := range t.pending {
		t.history = append(t.history, schema.ToolMessage(string(failure), id))
		t.resolveRecordedCall(id, failure)
		delete(t.pending, id)
	}
	t.state = stateStopped
	t.mu.Unlock()

	log.Info().Str("session_id", t.sessionID).Msg("deferred call expired")
	r.saveSnapshot(context.Background(), t)
	r.removeTurn(t)
}

func emitTo(ctx context.Context, ch chan<- contractx.StreamEvent) func(contractx.StreamEvent) {
	return func(ev contractx.StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}
