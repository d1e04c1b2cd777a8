// Package render emits compiled documents as sing-box JSON.
//
// Field order follows the sing-box option structs, so output is stable
// across runs without any ordering logic here.
package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/sagernet/sing/common/json"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

func renderErr(code, msg string, cause error) *RenderError {
	return &RenderError{
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   "render",
		},
		Cause: cause,
	}
}

// encode writes v as two-space indented JSON with a trailing newline. The
// context encoder is required: sing-box option types marshal through
// MarshalJSONContext.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoderContext(context.Background(), &buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, renderErr("RENDER_ERROR", "JSON 输出失败", err)
	}
	return buf.Bytes(), nil
}
