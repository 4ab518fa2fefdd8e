//go:build !windows

package bench

import (
	"context"

	"github.com/born-ml/onnxbench/internal/config"
)

// The WebGPU backend is only built for Windows.
func runOnWebGPU(_ context.Context, _ *Runner, _ config.Config) ([]*Result, error) {
	return nil, ErrDeviceUnavailable
}
