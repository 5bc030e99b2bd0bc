package httpapi

import (
	"net/http"

	app "github.com/Vigil-Network/switch_ledger/internal/app"
	"github.com/Vigil-Network/switch_ledger/internal/app/metrics"
)

// Options configures the assembled HTTP surface.
type Options struct {
	// AuthTokens are the accepted bearer tokens. Empty disables auth.
	AuthTokens []string

	// RateLimitRPS caps requests per second per caller. Zero disables
	// limiting; Burst defaults to RateLimitRPS.
	RateLimitRPS   int
	RateLimitBurst int

	// AuditFile, when set, persists mutating requests as JSONL in addition
	// to the in-memory ring.
	AuditFile       string
	AuditMaxEntries int
}

// NewRouter assembles the full middleware chain around the core API:
// metrics instrumentation, rate limiting, auth with audit, and the
// Prometheus scrape endpoint.
func NewRouter(application *app.Application, opts Options) (http.Handler, error) {
	var sink auditSink
	if opts.AuditFile != "" {
		fileSink, err := newFileAuditSink(opts.AuditFile)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}
	audit := newAuditLog(opts.AuditMaxEntries, sink)

	var h http.Handler = NewHandler(application)
	h = wrapWithAuth(h, opts.AuthTokens, audit)
	h = wrapWithRateLimit(h, opts.RateLimitRPS, opts.RateLimitBurst)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", h)
	return metrics.InstrumentHandler(mux), nil
}
