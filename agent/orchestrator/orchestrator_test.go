package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	sessionx "github.com/CallejaJ/solana-ai/agent/session"
)

const testAddress = "So11111111111111111111111111111111111111112"

// scriptedModel replays canned completions in order and records every
// request history it receives.
type scriptedModel struct {
	mu       sync.Mutex
	script   []*schema.Message
	requests [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	return m.next(in)
}

func (m *scriptedModel) Stream(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.next(in)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(_ []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) next(in []*schema.Message) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, in)
	if len(m.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	msg := m.script[0]
	m.script = m.script[1:]
	return msg, nil
}

type fakeChain struct {
	balance uint64
}

func (f *fakeChain) GetBalance(_ context.Context, _ string) (uint64, error) {
	return f.balance, nil
}

func (f *fakeChain) RecentSignatures(_ context.Context, _ string, _ int) ([]contractx.SignatureEntry, error) {
	return nil, nil
}

func (f *fakeChain) RequestAirdrop(_ context.Context, _ string, _ uint64) (string, error) {
	return "sig", nil
}

func (f *fakeChain) GetLatestBlockhash(_ context.Context) (string, error) {
	return "hash", nil
}

func (f *fakeChain) SendRawTransaction(_ context.Context, _ []byte) (string, error) {
	return "sig", nil
}

func (f *fakeChain) ConfirmTransaction(_ context.Context, _ string) error {
	return nil
}

type recordingStore struct {
	mu    sync.Mutex
	saves map[string][][]contractx.Message
}

func newRecordingStore() *recordingStore {
	return &recordingStore{saves: make(map[string][][]contractx.Message)}
}

func (s *recordingStore) Save(_ context.Context, id string, messages []contractx.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[id] = append(s.saves[id], messages)
	return nil
}

func (s *recordingStore) Get(_ context.Context, _ string) (*sessionx.Session, error) {
	return nil, sessionx.ErrSessionNotFound
}

func (s *recordingStore) List(_ context.Context) ([]sessionx.Session, error) {
	return nil, nil
}

func (s *recordingStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *recordingStore) lastSave(id string) []contractx.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	saves := s.saves[id]
	if len(saves) == 0 {
		return nil
	}
	return saves[len(saves)-1]
}

func newTestRunner(t *testing.T, model *scriptedModel, store sessionx.Store) *Runner {
	t.Helper()
	chains := contractx.ChainFactory(func(contractx.Network) contractx.ChainClient {
		return &fakeChain{balance: 1_000_000_000}
	})
	runner, err := New(model, chains, store, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return runner
}

func drain(t *testing.T, events <-chan contractx.StreamEvent) []contractx.StreamEvent {
	t.Helper()
	var out []contractx.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func finishReason(t *testing.T, events []contractx.StreamEvent) contractx.FinishReason {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.Type != contractx.EventFinish {
		t.Fatalf("last event = %s, want finish", last.Type)
	}
	return last.Reason
}

func toolCallResponse(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:   id,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}})
}

func userRequest(sessionID, text string) contractx.ChatRequest {
	return contractx.ChatRequest{
		SessionID: sessionID,
		Messages:  []contractx.Message{contractx.TextMessage(contractx.RoleUser, text)},
		Network:   contractx.NetworkDevnet,
	}
}

func TestStartTurnPlainAnswer(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		schema.AssistantMessage("Your balance is fine.", nil),
	}}
	store := newRecordingStore()
	runner := newTestRunner(t, model, store)

	events, err := runner.StartTurn(context.Background(), userRequest("s1", "how is my balance?"))
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	got := drain(t, events)

	if reason := finishReason(t, got); reason != contractx.FinishDone {
		t.Fatalf("finish reason = %s, want done", reason)
	}
	if got[0].Type != contractx.EventTextDelta || got[0].Text != "Your balance is fine." {
		t.Fatalf("unexpected first event: %+v", got[0])
	}

	saved := store.lastSave("s1")
	if len(saved) != 2 {
		t.Fatalf("saved %d messages, want 2", len(saved))
	}
	if saved[1].Role != contractx.RoleAssistant {
		t.Fatalf("second saved role = %s, want assistant", saved[1].Role)
	}
}

func TestStartTurnExecutesToolThenAnswers(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		toolCallResponse("call-1", "getBalance", `{"address":"`+testAddress+`"}`),
		schema.AssistantMessage("You have 1 SOL.", nil),
	}}
	store := newRecordingStore()
	runner := newTestRunner(t, model, store)

	events, err := runner.StartTurn(context.Background(), userRequest("s1", "balance?"))
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	got := drain(t, events)

	if reason := finishReason(t, got); reason != contractx.FinishDone {
		t.Fatalf("finish reason = %s, want done", reason)
	}

	var callEvents, resultEvents int
	for _, ev := range got {
		switch ev.Type {
		case contractx.EventToolCall:
			callEvents++
			if ev.ToolCallID != "call-1" || ev.ToolName != "getBalance" {
				t.Fatalf("unexpected tool-call event: %+v", ev)
			}
		case contractx.EventToolResult:
			resultEvents++
			var out map[string]any
			if err := json.Unmarshal(ev.Output, &out); err != nil {
				t.Fatalf("unmarshal tool output: %v", err)
			}
			if out["balance"] != 1.0 {
				t.Fatalf("balance = %v, want 1", out["balance"])
			}
		}
	}
	if callEvents != 1 || resultEvents != 1 {
		t.Fatalf("call events = %d, result events = %d, want 1 each", callEvents, resultEvents)
	}

	// The second completion must see the tool result.
	model.mu.Lock()
	defer model.mu.Unlock()
	if len(model.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.requests))
	}
	last := model.requests[1][len(model.requests[1])-1]
	if last.Role != schema.Tool || last.ToolCallID != "call-1" {
		t.Fatalf("last message of second request = %+v, want tool result for call-1", last)
	}
}

func TestStartTurnStopsAtBudget(t *testing.T) {
	t.Parallel()

	script := make([]*schema.Message, 0, DefaultStepBudget+1)
	for i := 0; i <= DefaultStepBudget; i++ {
		script = append(script, toolCallResponse("call", "getBalance", `{"address":"`+testAddress+`"}`))
	}
	model := &scriptedModel{script: script}
	runner := newTestRunner(t, model, newRecordingStore())

	events, err := runner.StartTurn(context.Background(), userRequest("s1", "loop"))
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	got := drain(t, events)

	if reason := finishReason(t, got); reason != contractx.FinishStopped {
		t.Fatalf("finish reason = %s, want stopped-by-budget", reason)
	}

	var steps int
	for _, ev := range got {
		if ev.Type == contractx.EventToolCall {
			steps++
		}
	}
	if steps != DefaultStepBudget {
		t.Fatalf("tool-call events = %d, want %d", steps, DefaultStepBudget)
	}
}

func TestDeferredCallParksAndResumes(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		toolCallResponse("call-send", "sendTransaction", `{"recipientAddress":"`+testAddress+`","amount":0.5}`),
		schema.AssistantMessage("Transfer confirmed.", nil),
	}}
	store := newRecordingStore()
	runner := newTestRunner(t, model, store)

	events, err := runner.StartTurn(context.Background(), userRequest("s1", "send 0.5 SOL"))
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	got := drain(t, events)

	if reason := finishReason(t, got); reason != contractx.FinishAwaitingInput {
		t.Fatalf("finish reason = %s, want awaiting-input", reason)
	}

	// The snapshot taken while parked records the call as pending-input.
	for _, msg := range store.lastSave("s1") {
		for _, part := range msg.Parts {
			if part.ToolCallID == "call-send" && part.State != contractx.CallPendingInput {
				t.Fatalf("parked call state = %s, want pending-input", part.State)
			}
		}
	}

	outcome := json.RawMessage(`{"confirmed":true,"signature":"abc","error":null}`)
	resumed, err := runner.Resolve(context.Background(), contractx.Injection{
		SessionID:  "s1",
		ToolCallID: "call-send",
		ToolName:   "sendTransaction",
		Output:     outcome,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	resumedEvents := drain(t, resumed)

	if resumedEvents[0].Type != contractx.EventToolResult || resumedEvents[0].ToolCallID != "call-send" {
		t.Fatalf("unexpected first resumed event: %+v", resumedEvents[0])
	}
	if reason := finishReason(t, resumedEvents); reason != contractx.FinishDone {
		t.Fatalf("resumed finish reason = %s, want done", reason)
	}

	// The resumed completion must carry the injected outcome.
	model.mu.Lock()
	second := model.requests[1]
	model.mu.Unlock()
	last := second[len(second)-1]
	if last.Role != schema.Tool || !strings.Contains(last.Content, `"confirmed":true`) {
		t.Fatalf("resumed request missing injected outcome: %+v", last)
	}

	saved := store.lastSave("s1")
	var found bool
	for _, msg := range saved {
		for _, part := range msg.Parts {
			if part.ToolCallID == "call-send" {
				found = true
				if part.State != contractx.CallFulfilled {
					t.Fatalf("call state = %s, want fulfilled", part.State)
				}
			}
		}
	}
	if !found {
		t.Fatal("saved transcript missing the deferred call part")
	}
}

func TestResolveFailedOutcomeMarksCallFailed(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		toolCallResponse("call-send", "sendTransaction", `{"recipientAddress":"`+testAddress+`","amount":1}`),
		schema.AssistantMessage("The transfer was rejected.", nil),
	}}
	store := newRecordingStore()
	runner := newTestRunner(t, model, store)

	events, _ := runner.StartTurn(context.Background(), userRequest("s1", "send 1 SOL"))
	drain(t, events)

	resumed, err := runner.Resolve(context.Background(), contractx.Injection{
		SessionID:  "s1",
		ToolCallID: "call-send",
		Output:     json.RawMessage(`{"confirmed":false,"signature":null,"error":"user rejected"}`),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	drain(t, resumed)

	saved := store.lastSave("s1")
	for _, msg := range saved {
		for _, part := range msg.Parts {
			if part.ToolCallID == "call-send" && part.State != contractx.CallFailed {
				t.Fatalf("call state = %s, want failed", part.State)
			}
		}
	}
}

func TestResolveUnknownSession(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, &scriptedModel{}, newRecordingStore())

	_, err := runner.Resolve(context.Background(), contractx.Injection{
		SessionID:  "missing",
		ToolCallID: "call-1",
	})
	if !errors.Is(err, contractx.ErrTurnNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrTurnNotFound", err)
	}
}

func TestResolveWrongCallIDIsNoOp(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		toolCallResponse("call-send", "sendTransaction", `{"recipientAddress":"`+testAddress+`","amount":1}`),
	}}
	runner := newTestRunner(t, model, newRecordingStore())

	events, _ := runner.StartTurn(context.Background(), userRequest("s1", "send"))
	drain(t, events)

	_, err := runner.Resolve(context.Background(), contractx.Injection{
		SessionID:  "s1",
		ToolCallID: "call-other",
	})
	if !errors.Is(err, contractx.ErrNoPendingCall) {
		t.Fatalf("Resolve() error = %v, want ErrNoPendingCall", err)
	}
}

func TestResolveDuplicateInjectionIsNoOp(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{script: []*schema.Message{
		toolCallResponse("call-send", "sendTransaction", `{"recipientAddress":"`+testAddress+`","amount":1}`),
		schema.AssistantMessage("Done.", nil),
	}}
	runner := newTestRunner(t, model, newRecordingStore())

	events, _ := runner.StartTurn(context.Background(), userRequest("s1", "send"))
	drain(t, events)

	outcome := json.RawMessage(`{"confirmed":true,"signature":"abc","error":null}`)
	resumed, err := runner.Resolve(context.Background(), contractx.Injection{
		SessionID: "s1", ToolCallID: "call-send", Output: outcome,
	})
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	drain(t, resumed)

	_, err = runner.Resolve(context.Background(), contractx.Injection{
		SessionID: "s1", ToolCallID: "call-send", Output: outcome,
	})
	if !errors.Is(err, contractx.ErrTurnNotFound) && !errors.Is(err, contractx.ErrNoPendingCall) {
		t.Fatalf("second Resolve() error = %v, want no-op error", err)
	}
}

func TestDeferredCallsAreIsolatedPerSession(t *testing.T) {
	t.Parallel()

	newDeferredModel := func() *scriptedModel {
		return &scriptedModel{script: []*schema.Message{
			toolCallResponse("call-a", "sendTransaction", `{"recipientAddress":"`+testAddress+`","amount":1}`),
			schema.AssistantMessage("Done.", nil),
		}}
	}

	store := newRecordingStore()
	runner := newTestRunner(t, newDeferredModel(), store)

	eventsA, _ := runner.StartTurn(context.Background(), userRequest("session-a", "send"))
	drain(t, eventsA)

	runnerB := newTestRunner(t, newDeferredModel(), store)
	eventsB, _ := runnerB.StartTurn(context.Background(), userRequest("session-b", "send"))
	drain(t, eventsB)

	// Resolving session-a on the other runner must not find a turn.
	_, err := runnerB.Resolve(context.Background(), contractx.Injection{
		SessionID: "session-a", ToolCallID: "call-a",
	})
	if !errors.Is(err, contractx.ErrTurnNotFound) {
		t.Fatalf("cross-session Resolve() error = %v, want ErrTurnNotFound", err)
	}

	resumed, err := runnerB.Resolve(context.Background(), contractx.Injection{
		SessionID:  "session-b",
		ToolCallID: "call-a",
		Output:     json.RawMessage(`{"confirmed":true,"signature":"abc","error":null}`),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if reason := finishReason(t, drain(t, resumed)); reason != contractx.FinishDone {
		t.Fatalf("finish reason = %s, want done", reason)
	}
}

func TestStartTurnValidation(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, &scriptedModel{}, newRecordingStore())

	if _, err := runner.StartTurn(context.Background(), contractx.ChatRequest{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := runner.StartTurn(context.Background(), contractx.ChatRequest{SessionID: "s1"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestModelFailureFinishesFailed(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, &scriptedModel{}, newRecordingStore())

	events, err := runner.StartTurn(context.Background(), userRequest("s1", "hi"))
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if reason := finishReason(t, drain(t, events)); reason != contractx.FinishFailed {
		t.Fatalf("finish reason = %s, want failed", reason)
	}
}
