package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/rules"
)

type rulesetRequest struct {
	URL      string
	Behavior string
}

func (r rulesetRequest) cacheKey() string {
	return r.Behavior + "\x00" + r.URL
}

// handleRuleset serves a Clash rule-provider converted to a sing-box source
// rule-set. Results are cached per (behavior, url).
func (s *server) handleRuleset(w http.ResponseWriter, r *http.Request) {
	req, err := parseRulesetGET(r)
	if err != nil {
		s.writeError(w, err, false)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.ConvertTimeout)
	defer cancel()

	out, res, err := s.rulesets.Do(ctx, req.cacheKey(), func(ctx context.Context) (*compiler.RuleSetOutput, error) {
		text, err := fetch.FetchTextWithOptions(ctx, fetch.KindRuleset, req.URL, s.opt.fetchOptions())
		if err != nil {
			return nil, err
		}
		return compiler.ConvertRuleSet(req.URL, text, req.Behavior)
	})
	s.metrics.rulesetCache.WithLabelValues(string(res)).Inc()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && err == ctx.Err() {
		err = apiError(http.StatusGatewayTimeout, model.AppError{
			Code:    "FETCH_TIMEOUT",
			Message: "等待 rule-set 转换超时",
			Stage:   "fetch_ruleset",
			URL:     req.URL,
		}, err)
	}
	if err != nil {
		s.writeError(w, err, false)
		return
	}

	w.Header().Set("X-Cache", string(res))
	writeDocument(w, out.JSON, len(out.Diagnostics))
}

func parseRulesetGET(r *http.Request) (rulesetRequest, error) {
	q := r.URL.Query()
	for key := range q {
		switch key {
		case "url", "behavior":
		default:
			return rulesetRequest{}, requestError("INVALID_ARGUMENT", fmt.Sprintf("不支持的 query 参数：%s", key), "")
		}
	}

	u, err := singleQuery(q, "url", true)
	if err != nil {
		return rulesetRequest{}, err
	}
	u = strings.TrimSpace(u)
	if u == "" {
		return rulesetRequest{}, requestError("INVALID_ARGUMENT", "url 不能为空", "expected: url=<rule-provider url>")
	}

	behavior, err := singleQuery(q, "behavior", false)
	if err != nil {
		return rulesetRequest{}, err
	}
	behavior = strings.ToLower(strings.TrimSpace(behavior))
	switch behavior {
	case "":
		behavior = rules.BehaviorClassical
	case rules.BehaviorClassical, rules.BehaviorDomain, rules.BehaviorIPCIDR:
	default:
		return rulesetRequest{}, requestError("INVALID_ARGUMENT", "不支持的 behavior", "expected: classical | domain | ipcidr")
	}
	return rulesetRequest{URL: u, Behavior: behavior}, nil
}
