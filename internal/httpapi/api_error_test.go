package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/John-Robertt/clash2singbox/internal/clash"
	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/render"
	"github.com/John-Robertt/clash2singbox/internal/rules"
)

func TestErrorStatus(t *testing.T) {
	app := model.AppError{Code: "X", Stage: "s"}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"api", &APIError{Status: http.StatusRequestEntityTooLarge, AppError: app}, http.StatusRequestEntityTooLarge},
		{"fetch", &fetch.FetchError{Status: http.StatusGatewayTimeout, AppError: app}, http.StatusGatewayTimeout},
		{"clash", &clash.ParseError{AppError: app}, http.StatusUnprocessableEntity},
		{"rules", &rules.ParseError{AppError: app}, http.StatusUnprocessableEntity},
		{"compile", &compiler.CompileError{AppError: app}, http.StatusUnprocessableEntity},
		{"render", &render.RenderError{AppError: app}, http.StatusUnprocessableEntity},
		{"wrapped", fmt.Errorf("outer: %w", &compiler.CompileError{AppError: app}), http.StatusUnprocessableEntity},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, got := errorStatus(c.err)
			if status != c.want {
				t.Fatalf("status=%d, want=%d", status, c.want)
			}
			if c.name != "internal" && got.Code != "X" {
				t.Fatalf("app=%+v", got)
			}
			if c.name == "internal" && got.Code != "INTERNAL_ERROR" {
				t.Fatalf("app=%+v", got)
			}
		})
	}
}
