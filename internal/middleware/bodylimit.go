package middleware

import (
	"net/http"
)

// Wallet API payloads are small JSON documents; a transaction request with
// four messages and state inits stays well under this.
const DefaultMaxBodySize = 64 << 10 // 64KB

// BodyLimitMiddleware refuses oversized request bodies before a handler
// starts decoding them. A declared Content-Length over the cap is rejected
// up front; chunked uploads without one are cut off by the reader wrapper
// once they cross it.
type BodyLimitMiddleware struct {
	max int64
}

func NewBodyLimitMiddleware(max int64) *BodyLimitMiddleware {
	if max <= 0 {
		max = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{max: max}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.max {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.max)
		}
		next.ServeHTTP(w, r)
	})
}
