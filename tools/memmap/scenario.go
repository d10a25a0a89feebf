package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/Nanoteck137/nano-os/kernel/mem/rangeset"
	"github.com/Nanoteck137/nano-os/multiboot"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// scenario describes the firmware inputs of a boot. A nil Areas or Sections
// list models a boot loader that did not supply the corresponding data.
type scenario struct {
	BootInfo struct {
		Addr uint64 `yaml:"addr"`
		Size uint32 `yaml:"size"`
	} `yaml:"boot_info"`

	Areas    []scenarioArea    `yaml:"areas"`
	Sections []scenarioSection `yaml:"sections"`

	// Expect optionally lists the free ranges the pipeline must produce.
	Expect []scenarioRange `yaml:"expect"`
}

type scenarioArea struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
	Type  string `yaml:"type"`
}

type scenarioSection struct {
	Start  uint64 `yaml:"start"`
	End    uint64 `yaml:"end"`
	Loaded *bool  `yaml:"loaded"`
}

type scenarioRange struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

func parseScenario(data []byte) (*scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("could not decode scenario: %w", err)
	}

	for i, area := range s.Areas {
		if _, err := areaType(area.Type); err != nil {
			return nil, fmt.Errorf("area %d: %w", i, err)
		}
	}
	return &s, nil
}

func areaType(name string) (multiboot.MemoryEntryType, error) {
	switch strings.ToLower(name) {
	case "available", "":
		return multiboot.MemAvailable, nil
	case "reserved":
		return multiboot.MemReserved, nil
	case "acpi":
		return multiboot.MemAcpiReclaimable, nil
	case "nvs":
		return multiboot.MemNvs, nil
	default:
		return 0, fmt.Errorf("unknown memory area type [available,reserved,acpi,nvs]: %q", name)
	}
}

// VisitMemRegions implements discovery.BootInfo.
func (s *scenario) VisitMemRegions(visitor multiboot.MemRegionVisitor) bool {
	if s.Areas == nil {
		return false
	}

	for _, area := range s.Areas {
		entryType, _ := areaType(area.Type)
		if !visitor(multiboot.MemoryMapEntry{PhysAddress: area.Start, Length: area.End - area.Start, Type: entryType}) {
			break
		}
	}
	return true
}

// VisitElfSections implements discovery.BootInfo.
func (s *scenario) VisitElfSections(visitor multiboot.ElfSectionVisitor) bool {
	if s.Sections == nil {
		return false
	}

	for _, sec := range s.Sections {
		if sec.End == sec.Start {
			continue
		}

		var flags multiboot.ElfSectionFlag
		if sec.Loaded == nil || *sec.Loaded {
			flags = multiboot.ElfSectionAllocated
		}
		visitor(flags, sec.Start, sec.End-sec.Start)
	}
	return true
}

// TotalSize implements discovery.BootInfo.
func (s *scenario) TotalSize() uint32 {
	return s.BootInfo.Size
}

func newScenarioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file.yaml>",
		Short: "Run memory discovery against a YAML description of the firmware inputs",
		Long: `The scenario command runs the memory discovery pipeline against the
memory areas, kernel sections and boot info location described in a YAML
file. Memory areas and sections use an exclusive end address. If the file
lists the expected free ranges (inclusive, as printed by the command), the
command fails when the pipeline produces different ones.

Example scenario:
  boot_info: {addr: 0x180000, size: 0x800}
  areas:
    - {start: 0x0, end: 0x20000000}
  sections:
    - {start: 0x100000, end: 0x150000}
  expect:
    - {start: 0x150000, end: 0x17ffff}
    - {start: 0x180800, end: 0x1fffffff}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScenario(cmd, args[0])
		},
	}
}

func (a *app) runScenario(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s, err := parseScenario(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	a.logger.Debug("loaded scenario", zap.String("path", path), zap.Int("areas", len(s.Areas)), zap.Int("sections", len(s.Sections)))

	ranges, err := runPipeline(a.logger, s, s.BootInfo.Addr, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	printRanges(cmd, ranges)

	if s.Expect == nil {
		return nil
	}

	exp := make([]rangeset.Range, 0, len(s.Expect))
	for _, r := range s.Expect {
		exp = append(exp, rangeset.Range{Start: r.Start, End: r.End})
	}
	if diff := cmp.Diff(exp, ranges); diff != "" {
		return fmt.Errorf("unexpected free ranges (-want +got):\n%s", diff)
	}
	return nil
}

func printRanges(cmd *cobra.Command, ranges []rangeset.Range) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d free range(s):\n", len(ranges))
	for _, r := range ranges {
		fmt.Fprintf(out, "  %#x-%#x (%d bytes)\n", r.Start, r.End, r.Size())
	}
}
