package annotation

import (
	"log"
	"net/http"
	"time"
)

// statusRecorder remembers the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// HTTPLogger logs one line per request. Failed analyses also name the upload
// and the failure reason taken from the request session.
func HTTPLogger(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)

		line := []any{time.Since(start).Milliseconds(), rec.status, r.Method, r.URL.Path, rec.bytes}
		if session := GetSession(r.Context()); session != nil {
			if _, err := session.Outcome(); err != nil {
				filename, _ := session.Upload()
				log.Printf("http: time:%dms %d %s %s %dB file:%s reason:%s", append(line, filename, ReasonOf(err))...)
				return
			}
		}
		log.Printf("http: time:%dms %d %s %s %dB", line...)
	})
}
