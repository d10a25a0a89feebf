package main

import (
	"fmt"
	"io"

	"github.com/Nanoteck137/nano-os/kernel/mem/discovery"
	"github.com/Nanoteck137/nano-os/kernel/mem/rangeset"
	"go.uber.org/zap"
)

// runPipeline runs memory discovery against info and returns the resulting
// free ranges. Pipeline progress is written to out.
func runPipeline(logger *zap.Logger, info discovery.BootInfo, bootInfoAddr uint64, out io.Writer) ([]rangeset.Range, error) {
	var (
		free rangeset.RangeSet
		p    = discovery.Pipeline{BootInfoAddr: bootInfoAddr}
	)

	logger.Debug("running memory discovery", zap.String("boot_info_addr", fmt.Sprintf("%#x", bootInfoAddr)))

	if err := p.Run(info, &free, out); err != nil {
		stage, _ := p.FailedStage()
		logger.Error("memory discovery failed", zap.Stringer("stage", stage), zap.String("module", err.Module))
		return nil, fmt.Errorf("memory discovery failed at stage %s: %w", stage, err)
	}

	logger.Info("memory discovery completed",
		zap.Int("ranges", free.Len()),
		zap.Uint64("free_bytes", free.TotalSize()),
		zap.String("kernel_image", formatRange(p.KernelImage())),
		zap.String("boot_info", formatRange(p.BootInfo())),
	)

	return append([]rangeset.Range(nil), free.Ranges()...), nil
}

func formatRange(r rangeset.Range) string {
	return fmt.Sprintf("[%#x - %#x]", r.Start, r.End)
}
