package middleware

import (
	"net/http"

	"github.com/channelpay/tonconnect-server-go/internal/httputil"
)

// writeJSON keeps middleware responses (auth rejections, rate limits, body
// size refusals) in the same envelope the handlers produce.
func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
