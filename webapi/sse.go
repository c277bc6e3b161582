package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

// streamEvents writes a turn's event channel to the response as
// server-sent events, flushing after each one so deltas reach the client
// as they happen. Returns when the channel closes or the client goes away.
func streamEvents(ctx context.Context, w http.ResponseWriter, events <-chan contractx.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Warn().Msg("response writer does not support flushing, stream will be buffered")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("marshal stream event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if ok {
				flusher.Flush()
			}
		}
	}
}
