package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	promptx "github.com/CallejaJ/solana-ai/agent/prompt"
	toolx "github.com/CallejaJ/solana-ai/agent/tool"
)

type turnInput struct {
	req  contractx.ChatRequest
	emit func(contractx.StreamEvent)
}

type turnOutput struct {
	State string
}

// turnCtx is the state threaded through the turn pipeline.
type turnCtx struct {
	req  contractx.ChatRequest
	emit func(contractx.StreamEvent)
	turn *turn
}

func (r *Runner) compileTurnGraph(ctx context.Context) (compose.Runnable[turnInput, turnOutput], error) {
	graph := compose.NewGraph[turnInput, turnOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in turnInput) (*turnCtx, error) {
			return validateRequest(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("prepare_turn",
		compose.InvokableLambda(func(ctx context.Context, in *turnCtx) (*turnCtx, error) {
			return r.prepareTurn(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node prepare_turn: %w", err)
	}

	if err := graph.AddLambdaNode("run_steps",
		compose.InvokableLambda(func(ctx context.Context, in *turnCtx) (*turnCtx, error) {
			r.loop(ctx, in.turn, in.emit)
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_steps: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_turn",
		compose.InvokableLambda(func(ctx context.Context, in *turnCtx) (turnOutput, error) {
			in.turn.mu.Lock()
			state := string(in.turn.state)
			in.turn.mu.Unlock()
			return turnOutput{State: state}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_turn: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "prepare_turn"},
		{"prepare_turn", "run_steps"},
		{"run_steps", "finalize_turn"},
		{"finalize_turn", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.turn"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}

func validateRequest(in turnInput) (*turnCtx, error) {
	if in.req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	if len(in.req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", contractx.ErrValidation)
	}
	if in.emit == nil {
		in.emit = func(contractx.StreamEvent) {}
	}
	return &turnCtx{req: in.req, emit: in.emit}, nil
}

// prepareTurn binds the network-scoped tool registry and system prompt,
// converts the boundary transcript to model messages, and registers the
// turn, superseding any parked turn on the same session.
func (r *Runner) prepareTurn(ctx context.Context, in *turnCtx) (*turnCtx, error) {
	network := in.req.Network
	registry := toolx.BuildForNetwork(network, r.chains(network))

	system, err := promptx.RenderSystem(promptx.Params{
		Network:       network,
		WalletAddress: in.req.WalletAddress,
	})
	if err != nil {
		return nil, err
	}

	toolModel, err := r.model.WithTools(registry.Infos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
	}

	t := &turn{
		sessionID: in.req.SessionID,
		network:   network,
		model:     toolModel,
		registry:  registry,
		history:   toSchemaMessages(system, in.req.Messages),
		record:    append([]contractx.Message(nil), in.req.Messages...),
		state:     stateAwaitingModel,
		pending:   make(map[string]pendingCall),
	}

	r.mu.Lock()
	if prev := r.turns[t.sessionID]; prev != nil && prev.expiry != nil {
		prev.expiry.Stop()
	}
	r.turns[t.sessionID] = t
	r.mu.Unlock()

	in.turn = t
	return in, nil
}
