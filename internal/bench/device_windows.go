//go:build windows

package bench

import (
	"context"
	"fmt"

	"github.com/born-ml/born/backend/webgpu"

	"github.com/born-ml/onnxbench/internal/config"
)

func runOnWebGPU(ctx context.Context, r *Runner, cfg config.Config) ([]*Result, error) {
	if !webgpu.IsAvailable() {
		return nil, ErrDeviceUnavailable
	}
	gpu, err := webgpu.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer gpu.Release()

	return runGrid(ctx, r, cfg, gpu)
}
