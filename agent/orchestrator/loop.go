package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

// loop advances the turn one model step at a time until it reaches a
// terminal state or parks on a deferred call. It is entered once per turn
// by the graph and re-entered by Resolve after the last injection.
func (r *Runner) loop(ctx context.Context, t *turn, emit func(contractx.StreamEvent)) {
	for {
		t.mu.Lock()
		if t.steps >= r.budget {
			t.state = stateStopped
			t.mu.Unlock()
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishStopped})
			r.removeTurn(t)
			return
		}
		model := t.model
		history := append([]*schema.Message(nil), t.history...)
		t.mu.Unlock()

		full, err := r.streamStep(ctx, model, history, emit)

		t.mu.Lock()
		t.steps++
		t.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("session_id", t.sessionID).Msg("model step failed")
			t.mu.Lock()
			t.state = stateFailed
			t.mu.Unlock()
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishFailed})
			r.removeTurn(t)
			return
		}

		t.mu.Lock()
		t.history = append(t.history, full)
		t.record = append(t.record, assistantRecord(full, t.registry))
		t.mu.Unlock()

		if len(full.ToolCalls) == 0 {
			t.mu.Lock()
			t.state = stateDone
			t.mu.Unlock()
			r.saveSnapshot(ctx, t)
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishDone})
			r.removeTurn(t)
			return
		}

		for _, call := range full.ToolCalls {
			emit(contractx.StreamEvent{
				Type:       contractx.EventToolCall,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Input:      json.RawMessage(call.Function.Arguments),
			})
		}

		hasDeferred := r.executeStep(ctx, t, full.ToolCalls, emit)
		r.saveSnapshot(ctx, t)

		if hasDeferred {
			t.mu.Lock()
			t.state = stateAwaitingInput
			t.expiry = time.AfterFunc(r.ttl, func() { r.expireTurn(t) })
			t.mu.Unlock()
			emit(contractx.StreamEvent{Type: contractx.EventFinish, Reason: contractx.FinishAwaitingInput})
			return
		}
	}
}

// streamStep runs one model completion, emitting text deltas as they
// arrive, and returns the concatenated message.
func (r *Runner) streamStep(
	ctx context.Context,
	model einomodel.ToolCallingChatModel,
	history []*schema.Message,
	emit func(contractx.StreamEvent),
) (*schema.Message, error) {
	stream, err := model.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("%w: stream completion: %v", contractx.ErrModelInvoke, err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read completion stream: %v", contractx.ErrModelInvoke, err)
		}
		if chunk.Content != "" {
			emit(contractx.StreamEvent{Type: contractx.EventTextDelta, Text: chunk.Content})
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: empty completion", contractx.ErrModelInvoke)
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: concat completion chunks: %v", contractx.ErrModelInvoke, err)
	}
	return full, nil
}

// executeStep runs every executable call of the step and registers deferred
// ones. Independent executors run concurrently, but results re-enter the
// history in the order the model requested the calls. Reports whether any
// call was deferred.
func (r *Runner) executeStep(ctx context.Context, t *turn, calls []schema.ToolCall, emit func(contractx.StreamEvent)) bool {
	executable := make([]int, 0, len(calls))
	hasDeferred := false

	t.mu.Lock()
	for i, call := range calls {
		decl, ok := t.registry.Lookup(call.Function.Name)
		if ok && decl.Deferred() {
			t.pending[call.ID] = pendingCall{
				name:  call.Function.Name,
				input: json.RawMessage(call.Function.Arguments),
			}
			hasDeferred = true
			continue
		}
		executable = append(executable, i)
	}
	t.mu.Unlock()

	results := make([]json.RawMessage, len(calls))
	var wg sync.WaitGroup
	for _, i := range executable {
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			results[i] = r.executeCall(ctx, t, call)
		}(i, calls[i])
	}
	wg.Wait()

	t.mu.Lock()
	for _, i := range executable {
		call := calls[i]
		t.history = append(t.history, schema.ToolMessage(string(results[i]), call.ID))
		t.resolveRecordedCall(call.ID, results[i])
	}
	t.mu.Unlock()

	for _, i := range executable {
		call := calls[i]
		emit(contractx.StreamEvent{
			Type:       contractx.EventToolResult,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Output:     results[i],
		})
	}
	return hasDeferred
}

// executeCall runs one executable call. Failures of any kind, including
// executor panics and unknown tool names, come back as structured error
// outputs so a single bad call never aborts the run.
func (r *Runner) executeCall(ctx context.Context, t *turn, call schema.ToolCall) (out json.RawMessage) {
	name := call.Function.Name
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Any("panic", rec).Str("tool", name).Msg("tool executor panicked")
			out = mustJSON(map[string]any{"error": fmt.Sprintf("tool=%s execution failed", name)})
		}
	}()

	decl, ok := t.registry.Lookup(name)
	if !ok {
		return mustJSON(map[string]any{
			"error": fmt.Sprintf("tool=%s is not available on network=%s", name, t.network),
		})
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return mustJSON(map[string]any{
				"error": fmt.Sprintf("invalid arguments for tool=%s", name),
			})
		}
	}

	return mustJSON(decl.Execute(ctx, args))
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"error":"unserializable tool output"}`)
	}
	return raw
}
