package middleware

import (
	"net/http"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// BodySizeLimit creates middleware that rejects request bodies larger than
// maxBytes. Blob uploads are bounded by the largest value a partition can
// hold, so anything above that is refused before it is read.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, status.InvalidArgument, "request body too large")
				return
			}

			// Chunked bodies carry no Content-Length.
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}
