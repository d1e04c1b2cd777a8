package compiler

import (
	"errors"

	"github.com/John-Robertt/clash2singbox/internal/clash"
	"github.com/John-Robertt/clash2singbox/internal/diag"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/render"
	"github.com/John-Robertt/clash2singbox/internal/rules"
)

type Output struct {
	Document    *model.TargetDocument
	JSON        []byte
	Diagnostics []model.Diagnostic
}

// Convert runs parse -> compile -> render over one Clash document.
//
// Errors are *clash.ParseError, *CompileError or *render.RenderError; use
// Diagnostics(err) to get the warnings collected before a failure.
func Convert(sourceURL string, text string, opt Options) (*Output, error) {
	dc := diag.New()
	doc, err := clash.ParseDocument(sourceURL, text, dc)
	if err != nil {
		return nil, err
	}

	target, err := Compile(doc, opt, dc)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			ce.AppError.URL = sourceURL
		}
		return nil, err
	}

	b, err := render.SingBox(target)
	if err != nil {
		return nil, err
	}
	return &Output{Document: target, JSON: b, Diagnostics: dc.Items()}, nil
}

// Diagnostics returns the diagnostics carried by a conversion error.
func Diagnostics(err error) []model.Diagnostic {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Diagnostics
	}
	var pe *clash.ParseError
	if errors.As(err, &pe) {
		return pe.Diagnostics
	}
	return nil
}

type RuleSetOutput struct {
	Document    *model.RuleSetDocument
	JSON        []byte
	Diagnostics []model.Diagnostic
}

// ConvertRuleSet turns a Clash rule-provider payload (yaml or text) into a
// sing-box source rule-set.
func ConvertRuleSet(sourceURL string, text string, behavior string) (*RuleSetOutput, error) {
	entries, err := rules.ParseRulesetText(sourceURL, text, behavior)
	if err != nil {
		return nil, err
	}
	dc := diag.New()
	doc := CompileRuleSet(entries, dc)
	b, err := render.RuleSet(doc)
	if err != nil {
		return nil, err
	}
	return &RuleSetOutput{Document: doc, JSON: b, Diagnostics: dc.Items()}, nil
}
