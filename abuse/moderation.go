package abuse

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ModerationHandler exposes the read-only moderation surface. It serves rate
// limit records to support and audit tooling; all writes stay inside the
// guard.
func ModerationHandler(guard *Guard) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /moderation/ratelimits/{userId}", func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("userId")

		rec, ok := guard.Lookup(userID)
		if !ok {
			http.Error(w, "no record for user", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ModerationHandler",
				"user_id":  userID,
				"error":    err.Error(),
			}).Error("Failed to encode rate limit record")
		}
	})

	return mux
}
