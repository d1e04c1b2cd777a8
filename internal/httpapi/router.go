package httpapi

import (
	"net/http"

	"github.com/John-Robertt/clash2singbox/internal/cache"
	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"go.uber.org/zap"
)

type server struct {
	opt      Options
	log      *zap.SugaredLogger
	metrics  *metrics
	rulesets *cache.Cache[*compiler.RuleSetOutput]
}

func newServer(opt Options) *server {
	opt = opt.withDefaults()
	return &server{
		opt:      opt,
		log:      opt.Logger,
		metrics:  newMetrics(),
		rulesets: cache.New[*compiler.RuleSetOutput](opt.RulesetCacheTTL, opt.RulesetCacheMaxEntries),
	}
}

func NewMux() *http.ServeMux {
	return NewMuxWithOptions(Options{})
}

func NewMuxWithOptions(opt Options) *http.ServeMux {
	return newServer(opt).mux()
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", s.metrics.handler())
	mux.HandleFunc("GET /convert", s.handleConvertGET)
	mux.HandleFunc("POST /api/convert", s.handleConvertPOST)
	mux.HandleFunc("GET /ruleset", s.handleRuleset)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}
