package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"github.com/John-Robertt/clash2singbox/internal/model"
)

const defaultBodyLimit = 5 * 1024 * 1024

type convertRequest struct {
	URL         string
	Source      string
	Diagnostics bool
	FakeIP      bool
	FileName    string
}

type convertRequestJSON struct {
	URL         string `json:"url"`
	Source      string `json:"source"`
	Diagnostics bool   `json:"diagnostics"`
	FakeIP      *bool  `json:"fakeip"`
	FileName    string `json:"fileName"`
}

// convertEnvelope is the body when diagnostics are requested.
type convertEnvelope struct {
	Config      json.RawMessage    `json:"config"`
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

func (s *server) handleConvertGET(w http.ResponseWriter, r *http.Request) {
	req, err := parseConvertGET(r)
	if err != nil {
		s.writeError(w, err, false)
		return
	}
	s.serveConvert(w, r, req)
}

func (s *server) handleConvertPOST(w http.ResponseWriter, r *http.Request) {
	var (
		req convertRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		req, err = parseConvertPOST(r)
	} else {
		req, err = s.parseConvertRaw(w, r)
	}
	if err != nil {
		s.writeError(w, err, false)
		return
	}
	s.serveConvert(w, r, req)
}

func (s *server) serveConvert(w http.ResponseWriter, r *http.Request, req convertRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opt.ConvertTimeout)
	defer cancel()

	out, err := s.runConvert(ctx, r, req)
	if err != nil {
		s.writeError(w, err, req.Diagnostics)
		return
	}

	n := len(out.Diagnostics)
	s.metrics.warnings.Add(float64(n))
	for _, d := range out.Diagnostics {
		s.log.Debugw("conversion warning", "stage", d.Stage, "entity", d.Entity, "line", d.Line, "msg", d.Message)
	}

	body := out.JSON
	if req.Diagnostics {
		body, err = envelope(out)
		if err != nil {
			s.writeError(w, err, false)
			return
		}
	}
	if req.FileName != "" {
		w.Header().Set("Content-Disposition", contentDispositionAttachment(req.FileName))
	}
	writeDocument(w, body, n)
}

func (s *server) runConvert(ctx context.Context, r *http.Request, req convertRequest) (*compiler.Output, error) {
	text, sourceURL := req.Source, ""
	if req.URL != "" {
		var err error
		text, err = fetch.FetchTextWithOptions(ctx, fetch.KindSource, req.URL, s.opt.fetchOptions())
		if err != nil {
			return nil, err
		}
		sourceURL = req.URL
	}

	caps := compiler.DefaultCapabilities()
	caps.FakeIP = req.FakeIP && !s.opt.DisableFakeIP
	return compiler.Convert(sourceURL, text, compiler.Options{
		RulesetBaseURL: s.publicBaseURL(r),
		Capabilities:   caps,
	})
}

func envelope(out *compiler.Output) ([]byte, error) {
	diags := out.Diagnostics
	if diags == nil {
		diags = []model.Diagnostic{}
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(convertEnvelope{Config: out.JSON, Diagnostics: diags}); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// publicBaseURL is where sing-box will reach /ruleset.
func (s *server) publicBaseURL(r *http.Request) string {
	if base := strings.TrimRight(strings.TrimSpace(s.opt.PublicBaseURL), "/"); base != "" {
		return base
	}
	return deriveRequestBaseURL(r)
}

func deriveRequestBaseURL(r *http.Request) string {
	if r == nil {
		return "http://127.0.0.1:25500"
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "127.0.0.1:25500"
	}
	return scheme + "://" + host
}

func parseConvertGET(r *http.Request) (convertRequest, error) {
	q := r.URL.Query()
	for key := range q {
		switch key {
		case "url", "diagnostics", "fakeip", "fileName":
		default:
			return convertRequest{}, requestError("INVALID_ARGUMENT", fmt.Sprintf("不支持的 query 参数：%s", key), "")
		}
	}

	u, err := singleQuery(q, "url", true)
	if err != nil {
		return convertRequest{}, err
	}
	u = strings.TrimSpace(u)
	if u == "" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "url 不能为空", "expected: url=<clash config url>")
	}

	req := convertRequest{URL: u}
	if err := parseCommonQuery(q, &req); err != nil {
		return convertRequest{}, err
	}
	return req, nil
}

// parseCommonQuery reads diagnostics, fakeip and fileName.
func parseCommonQuery(q url.Values, req *convertRequest) error {
	var err error
	if req.Diagnostics, err = flagQuery(q, "diagnostics", false); err != nil {
		return err
	}
	if req.FakeIP, err = flagQuery(q, "fakeip", true); err != nil {
		return err
	}
	name, err := singleQuery(q, "fileName", false)
	if err != nil {
		return err
	}
	req.FileName, err = outputFileName(name)
	return err
}

func parseConvertPOST(r *http.Request) (convertRequest, error) {
	var body convertRequestJSON
	dec := json.NewDecoder(io.LimitReader(r.Body, defaultBodyLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 不允许多段", "")
	} else if !errors.Is(err, io.EOF) {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}

	u := strings.TrimSpace(body.URL)
	hasSource := strings.TrimSpace(body.Source) != ""
	if (u == "") == !hasSource {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "url 与 source 必须且只能提供一个", "")
	}

	name, err := outputFileName(body.FileName)
	if err != nil {
		return convertRequest{}, err
	}
	req := convertRequest{
		URL:         u,
		Source:      body.Source,
		Diagnostics: body.Diagnostics,
		FakeIP:      true,
		FileName:    name,
	}
	if body.FakeIP != nil {
		req.FakeIP = *body.FakeIP
	}
	return req, nil
}

// parseConvertRaw takes the body as the Clash document itself; options come
// from the query string.
func (s *server) parseConvertRaw(w http.ResponseWriter, r *http.Request) (convertRequest, error) {
	q := r.URL.Query()
	for key := range q {
		switch key {
		case "diagnostics", "fakeip", "fileName":
		default:
			return convertRequest{}, requestError("INVALID_ARGUMENT", fmt.Sprintf("不支持的 query 参数：%s", key), "")
		}
	}

	limit := s.opt.FetchMaxBytes
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return convertRequest{}, apiError(http.StatusRequestEntityTooLarge, model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("请求体过大（>%d bytes）", limit),
				Stage:   "validate_request",
			}, err)
		}
		return convertRequest{}, requestError("INVALID_ARGUMENT", "读取请求体失败", err.Error())
	}
	if strings.TrimSpace(string(b)) == "" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "请求体为空", "expected: Clash YAML or JSON {\"url\"|\"source\"}")
	}
	if !utf8.Valid(b) {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "请求体不是合法 UTF-8 文本", "")
	}

	req := convertRequest{Source: string(b)}
	if err := parseCommonQuery(q, &req); err != nil {
		return convertRequest{}, err
	}
	return req, nil
}

func singleQuery(q url.Values, key string, required bool) (string, error) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		if required {
			return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("缺少 %s 参数", key), "")
		}
		return "", nil
	}
	if len(values) != 1 {
		return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("%s 参数只能出现一次", key), "")
	}
	return values[0], nil
}

func flagQuery(q url.Values, key string, def bool) (bool, error) {
	v, err := singleQuery(q, key, false)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def, nil
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, requestError("INVALID_ARGUMENT", fmt.Sprintf("%s 参数必须是 0/1", key), v)
}
