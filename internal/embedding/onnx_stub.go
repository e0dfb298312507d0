//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, errNoCGO }

func (e *ONNXEmbedder) Dim() int { return 0 }

func (e *ONNXEmbedder) ID() string { return "onnx" }

func (e *ONNXEmbedder) Version(context.Context) (string, error) { return "", errNoCGO }

func (e *ONNXEmbedder) Close() error { return nil }
