package bot

import (
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookHandler decodes Telegram webhook deliveries and feeds them into
// the same updates channel the polling path uses, so the workers never
// care which transport is configured.
func WebhookHandler(log Logger, updates chan<- tgbotapi.Update) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			log.WarnContext(r.Context(), "rejecting malformed webhook update", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "bad update payload", http.StatusBadRequest)
			return
		}

		// Block until a worker has room. If we time out Telegram retries
		// the delivery, which beats silently dropping it.
		select {
		case updates <- update:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		}
	})
}
