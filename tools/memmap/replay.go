package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"unsafe"

	"github.com/Nanoteck137/nano-os/multiboot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errDumpTooSmall = errors.New("multiboot dump is smaller than its header")

func newReplayCmd(a *app) *cobra.Command {
	var dumpPath, infoAddr string

	cmd := &cobra.Command{
		Use:   "replay --dump <file> --info-addr <addr>",
		Short: "Run memory discovery against a raw multiboot2 info dump",
		Long: `The replay command maps a raw multiboot2 information block, as
captured from the memory of a virtual machine, and runs the memory discovery
pipeline against it. --info-addr is the physical address the block was
loaded at by the boot loader.

Example:
  memmap replay --dump qemu.mbi --info-addr 0x1d8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := strconv.ParseUint(infoAddr, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid --info-addr %q: %w", infoAddr, err)
			}
			return a.runReplay(cmd, dumpPath, addr)
		},
	}

	cmd.Flags().StringVar(&dumpPath, "dump", "", "Path to the multiboot2 info dump")
	cmd.Flags().StringVar(&infoAddr, "info-addr", "0", "Physical address of the multiboot2 info block")
	_ = cmd.MarkFlagRequired("dump")

	return cmd
}

func (a *app) runReplay(cmd *cobra.Command, dumpPath string, infoAddr uint64) error {
	data, unmap, err := mapFile(dumpPath)
	if err != nil {
		return fmt.Errorf("failed to load dump: %w", err)
	}
	defer func() {
		if err := unmap(); err != nil {
			a.logger.Warn("failed to unmap dump", zap.Error(err))
		}
	}()

	info, err := alignedInfo(data)
	if err != nil {
		return fmt.Errorf("%s: %w", dumpPath, err)
	}
	a.logger.Debug("loaded multiboot dump", zap.String("path", dumpPath), zap.Int("total_size", len(info)))

	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
	ranges, err := runPipeline(a.logger, multiboot.Info{}, infoAddr, cmd.OutOrStdout())
	runtime.KeepAlive(info)
	if err != nil {
		return err
	}

	printRanges(cmd, ranges)
	return nil
}

// alignedInfo validates the size header of a multiboot2 info dump and
// returns a copy of the block in an 8-byte aligned buffer.
func alignedInfo(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, errDumpTooSmall
	}

	totalSize := int(binary.LittleEndian.Uint32(data))
	if totalSize < 8 || totalSize > len(data) {
		return nil, fmt.Errorf("multiboot dump reports a total size of %d bytes but holds %d", totalSize, len(data))
	}

	backing := make([]uint64, (totalSize+7)/8)
	info := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), totalSize)
	copy(info, data)
	return info, nil
}
