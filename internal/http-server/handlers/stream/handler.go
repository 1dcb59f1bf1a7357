package stream

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wabridge/internal/bus"
	"wabridge/internal/lib/sl"
	"wabridge/internal/ws"
)

// Subscriber attaches a live consumer to a conversation's fan-out.
type Subscriber interface {
	Subscribe(conversationID string) (*bus.Subscription, error)
}

// Conversation upgrades the request to a WebSocket and streams every message
// relayed for the conversation until the client disconnects. Subscribers are
// independent: each gets the full sequence from the moment it attaches.
func Conversation(log *slog.Logger, subscriber Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("stream"))

		conversationID := chi.URLParam(r, "conversation_id")
		if conversationID == "" {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		sub, err := subscriber.Subscribe(conversationID)
		if err != nil {
			logger.With(sl.Err(err)).Error("subscribe failed",
				slog.String("conversation_id", conversationID),
			)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}

		logger.Info("stream opened", slog.String("conversation_id", conversationID))
		ws.Serve(w, r, conversationID, sub.C, sub.Close, logger)
	}
}
