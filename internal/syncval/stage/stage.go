// Package stage defines the closed set of pipeline stages and access kinds
// the hazard detector reasons about, plus the logical ordering between
// stages used to expand barrier and semaphore scopes.
//
// Stages are single bits of a Mask. Scopes declared on waits, signals and
// barriers are Masks. Source scopes implicitly include logically earlier
// stages and destination scopes logically later stages, the same way the
// graphics API defines them.
package stage

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Mask is a set of pipeline stages.
type Mask uint32

// Pipeline stages. Each is a single bit.
const (
	TopOfPipe Mask = 1 << iota
	DrawIndirect
	VertexInput
	VertexShader
	TessellationControlShader
	TessellationEvaluationShader
	GeometryShader
	EarlyFragmentTests
	FragmentShader
	LateFragmentTests
	ColorAttachmentOutput
	ComputeShader
	Copy
	Host
	BottomOfPipe

	stageLimit
)

// None is the empty scope. A barrier with a None source scope orders
// execution only and makes no memory available.
const None Mask = 0

// AllGraphics covers every stage of the graphics pipeline.
const AllGraphics = DrawIndirect | VertexInput | VertexShader |
	TessellationControlShader | TessellationEvaluationShader | GeometryShader |
	EarlyFragmentTests | FragmentShader | LateFragmentTests | ColorAttachmentOutput

// AllCommands covers every stage a queue can execute.
const AllCommands = stageLimit - 1

// ShaderStages is the set of programmable shader stages.
const ShaderStages = VertexShader | TessellationControlShader |
	TessellationEvaluationShader | GeometryShader | FragmentShader | ComputeShader

var stageNames = map[Mask]string{
	TopOfPipe:                    "TOP_OF_PIPE",
	DrawIndirect:                 "DRAW_INDIRECT",
	VertexInput:                  "VERTEX_INPUT",
	VertexShader:                 "VERTEX_SHADER",
	TessellationControlShader:    "TESSELLATION_CONTROL_SHADER",
	TessellationEvaluationShader: "TESSELLATION_EVALUATION_SHADER",
	GeometryShader:               "GEOMETRY_SHADER",
	EarlyFragmentTests:           "EARLY_FRAGMENT_TESTS",
	FragmentShader:               "FRAGMENT_SHADER",
	LateFragmentTests:            "LATE_FRAGMENT_TESTS",
	ColorAttachmentOutput:        "COLOR_ATTACHMENT_OUTPUT",
	ComputeShader:                "COMPUTE_SHADER",
	Copy:                         "COPY",
	Host:                         "HOST",
	BottomOfPipe:                 "BOTTOM_OF_PIPE",
}

var aliasMasks = map[string]Mask{
	"ALL_GRAPHICS": AllGraphics,
	"ALL_COMMANDS": AllCommands,
	"TRANSFER":     Copy,
	"NONE":         None,
}

// ErrUnknownStage is returned when parsing an unrecognised stage name.
var ErrUnknownStage = errors.New("stage: unknown pipeline stage")

// pipelines lists the logically ordered stage sequences. A stage may appear
// in more than one sequence (DrawIndirect feeds both graphics and compute).
var pipelines = [][]Mask{
	{DrawIndirect, VertexInput, VertexShader, TessellationControlShader,
		TessellationEvaluationShader, GeometryShader, EarlyFragmentTests,
		FragmentShader, LateFragmentTests, ColorAttachmentOutput},
	{DrawIndirect, ComputeShader},
	{Copy},
	{Host},
}

var (
	earlier = map[Mask]Mask{}
	later   = map[Mask]Mask{}
)

func init() {
	for _, p := range pipelines {
		for i, s := range p {
			for _, e := range p[:i] {
				earlier[s] |= e
			}
			for _, l := range p[i+1:] {
				later[s] |= l
			}
		}
	}
}

// Has reports whether every stage in other is in m.
func (m Mask) Has(other Mask) bool {
	return m&other == other
}

// Intersects reports whether m and other share a stage.
func (m Mask) Intersects(other Mask) bool {
	return m&other != 0
}

// Count returns the number of stages in the mask.
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// IsSingle reports whether m is exactly one stage.
func (m Mask) IsSingle() bool {
	return m.Count() == 1
}

// Stages returns the individual stage bits in ascending order.
func (m Mask) Stages() []Mask {
	out := make([]Mask, 0, m.Count())
	for v := uint32(m); v != 0; v &= v - 1 {
		out = append(out, Mask(1)<<bits.TrailingZeros32(v))
	}
	return out
}

// ExpandSource returns the effective source scope of m: every named stage
// plus all logically earlier stages. BottomOfPipe and AllCommands expand
// to every stage.
func (m Mask) ExpandSource() Mask {
	if m.Intersects(BottomOfPipe) {
		return AllCommands
	}
	out := m
	for _, s := range m.Stages() {
		out |= earlier[s]
	}
	return out
}

// ExpandDestination returns the effective destination scope of m: every
// named stage plus all logically later stages. TopOfPipe expands to every
// stage.
func (m Mask) ExpandDestination() Mask {
	if m.Intersects(TopOfPipe) {
		return AllCommands
	}
	out := m
	for _, s := range m.Stages() {
		out |= later[s]
	}
	return out
}

// String renders the mask as "A|B" in ascending bit order.
func (m Mask) String() string {
	if m == None {
		return "NONE"
	}
	if m == AllCommands {
		return "ALL_COMMANDS"
	}
	parts := make([]string, 0, m.Count())
	for _, s := range m.Stages() {
		if n, ok := stageNames[s]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("0x%x", uint32(s)))
		}
	}
	return strings.Join(parts, "|")
}

// ParseMask parses "COPY|VERTEX_SHADER" style stage lists. Separators may
// be '|', ',' or whitespace; names are case-insensitive.
func ParseMask(s string) (Mask, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '\t'
	})
	var m Mask
	for _, f := range fields {
		name := strings.TrimPrefix(strings.ToUpper(f), "VK_PIPELINE_STAGE_")
		name = strings.TrimSuffix(name, "_BIT")
		if a, ok := aliasMasks[name]; ok {
			m |= a
			continue
		}
		found := false
		for bit, n := range stageNames {
			if n == name {
				m |= bit
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("%w: %q", ErrUnknownStage, f)
		}
	}
	return m, nil
}

// Names returns every single-stage name sorted alphabetically, for help text.
func Names() []string {
	out := make([]string, 0, len(stageNames))
	for _, s := range AllCommands.Stages() {
		out = append(out, stageNames[s])
	}
	sort.Strings(out)
	return out
}
