// Package audit records one structured log entry per request on protected
// routes: who called, what they asked for, and how it ended.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at. Entries are written
// regardless of the configured minimum level.
const Level = zerolog.InfoLevel

type entryContextKey struct{}

// Entry is the audit record for a single request. Handlers and middleware
// fill it in as the request progresses; it is written when the request ends.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	Error     string

	Authorized     bool
	AuthSubject    string
	AuthIssuer     string
	AuthAudience   []string
	AuthExpirySecs int64

	// Issuer and KeyIDs describe the provider configuration the request was
	// served from.
	Issuer string
	KeyIDs []string

	// CacheInvalidated lists cache keys removed by the request.
	CacheInvalidated []string
	RefreshRequested bool
}

// MarshalZerologObject groups the entry into request, authorization and
// (when populated) metadata dictionaries.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	auth := NewOptionalEvent(nil).
		Bool("authorized", e.Authorized).
		Str("subject", e.AuthSubject).
		Str("issuer", e.AuthIssuer).
		Strs("audience", e.AuthAudience)
	if e.AuthExpirySecs != 0 {
		auth.Event().Int64("expirySecs", e.AuthExpirySecs)
	}
	auth.Set(ev, "authorization")

	md := NewOptionalEvent(nil).
		Str("issuer", e.Issuer).
		Strs("keyIDs", e.KeyIDs).
		Strs("cacheInvalidated", e.CacheInvalidated)
	if e.RefreshRequested {
		md.Bool("refreshRequested", true)
	}
	md.Set(ev, "metadata")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin captures the request attributes.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	e.SourceIP = host
}

// End returns a function that writes the entry to the context logger. It is
// intended to be deferred.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
	}
}

func (e *Entry) appendError(msg string) {
	if e.Error == "" {
		e.Error = msg
		return
	}
	e.Error = e.Error + "; " + msg
}

// Context returns the entry attached to ctx, attaching a new one if none is
// present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(entryContextKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, entryContextKey{}, e), e
}

// Log returns the entry for the request. Outside of the audit middleware the
// returned entry is detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for every request it wraps, including
// requests whose handler panics. The panic is re-raised once recorded.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			defer entry.End(ctx)()

			defer func() {
				if rec := recover(); rec != nil {
					entry.appendError(fmt.Sprintf("panic: %v", rec))
					entry.Status = http.StatusInternalServerError
					panic(rec)
				}
			}()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.entry.Status == 0 {
		s.entry.Status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
