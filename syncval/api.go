package syncval

import (
	"io"

	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/config"
	"github.com/kolkov/syncval/internal/syncval/engine"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/scenario"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/tag"
	"github.com/kolkov/syncval/internal/syncval/timeline"
)

// Engine and its call arguments.
type (
	Engine        = engine.Engine
	Option        = engine.Option
	Submission    = engine.Submission
	WaitOp        = engine.WaitOp
	SignalOp      = engine.SignalOp
	SemaphoreWait = engine.SemaphoreWait
	Stats         = engine.Stats
	Config        = config.Config
)

// Handles.
type (
	QueueID     = tag.QueueID
	BatchTag    = tag.Tag
	SemaphoreID = timeline.SemaphoreID
	FenceID     = timeline.FenceID
	ResourceID  = resource.ID
)

// Command buffers and what they record.
type (
	CommandBuffer = cmdlog.Log
	Range         = resource.Range
	Image         = resource.Image
	Subresources  = resource.Subresources
	Stage         = stage.Mask
	AccessKind    = stage.Kind
	Access        = stage.Access
)

// Hazards and where they go.
type (
	Hazard     = hazard.Hazard
	HazardKind = hazard.Kind
	Sink       = hazard.Sink
	SinkFunc   = hazard.SinkFunc
	Collector  = hazard.Collector
)

// Scenario replay.
type (
	Scenario       = scenario.Scenario
	ScenarioResult = scenario.Result
)

// Enumerations.
type (
	QueueFamily   = queue.Family
	SemaphoreKind = timeline.Kind
)

// Queue families.
const (
	Graphics = queue.Graphics
	Compute  = queue.Compute
	Transfer = queue.Transfer
)

// Semaphore kinds.
const (
	Binary   = timeline.Binary
	Timeline = timeline.Timeline
)

// Hazard kinds.
const (
	ReadAfterWrite  = hazard.ReadAfterWrite
	WriteAfterWrite = hazard.WriteAfterWrite
	WriteAfterRead  = hazard.WriteAfterRead
	Indeterminate   = hazard.Indeterminate
)

// Pipeline stages.
const (
	TopOfPipe                    = stage.TopOfPipe
	DrawIndirect                 = stage.DrawIndirect
	VertexInput                  = stage.VertexInput
	VertexShader                 = stage.VertexShader
	TessellationControlShader    = stage.TessellationControlShader
	TessellationEvaluationShader = stage.TessellationEvaluationShader
	GeometryShader               = stage.GeometryShader
	EarlyFragmentTests           = stage.EarlyFragmentTests
	FragmentShader               = stage.FragmentShader
	LateFragmentTests            = stage.LateFragmentTests
	ColorAttachmentOutput        = stage.ColorAttachmentOutput
	ComputeShader                = stage.ComputeShader
	Copy                         = stage.Copy
	Host                         = stage.Host
	BottomOfPipe                 = stage.BottomOfPipe
	AllGraphics                  = stage.AllGraphics
	AllCommands                  = stage.AllCommands
)

// Access kinds.
const (
	IndirectCommandRead         = stage.IndirectCommandRead
	IndexRead                   = stage.IndexRead
	VertexAttributeRead         = stage.VertexAttributeRead
	UniformRead                 = stage.UniformRead
	ShaderSampledRead           = stage.ShaderSampledRead
	ShaderStorageRead           = stage.ShaderStorageRead
	ShaderStorageWrite          = stage.ShaderStorageWrite
	InputAttachmentRead         = stage.InputAttachmentRead
	ColorAttachmentRead         = stage.ColorAttachmentRead
	ColorAttachmentWrite        = stage.ColorAttachmentWrite
	DepthStencilAttachmentRead  = stage.DepthStencilAttachmentRead
	DepthStencilAttachmentWrite = stage.DepthStencilAttachmentWrite
	TransferRead                = stage.TransferRead
	TransferWrite               = stage.TransferWrite
	HostRead                    = stage.HostRead
	HostWrite                   = stage.HostWrite
)

// Errors returned by engine calls.
var (
	ErrUnknownSemaphore      = engine.ErrUnknownSemaphore
	ErrUnknownFence          = engine.ErrUnknownFence
	ErrNonMonotonicSignal    = engine.ErrNonMonotonicSignal
	ErrBinaryWaitValue       = engine.ErrBinaryWaitValue
	ErrSemaphoreKindMismatch = engine.ErrSemaphoreKindMismatch
	ErrSemaphoreBusy         = engine.ErrSemaphoreBusy
	ErrFenceInUse            = engine.ErrFenceInUse
	ErrUnsupportedStage      = engine.ErrUnsupportedStage
	ErrQueueUnknown          = engine.ErrQueueUnknown
	ErrHostWaitTimeout       = engine.ErrHostWaitTimeout
)

// New creates an engine.
func New(opts ...Option) *Engine {
	return engine.New(opts...)
}

// Engine options.
var (
	WithConfig         = engine.WithConfig
	WithLogger         = engine.WithLogger
	WithSink           = engine.WithSink
	WithMetrics        = engine.WithMetrics
	WithTracerProvider = engine.WithTracerProvider
)

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a configuration file (or only the environment when path
// is empty) over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// NewCommandBuffer creates an empty command buffer log.
func NewCommandBuffer(name string) *CommandBuffer {
	return cmdlog.New(name)
}

// Buffer returns the range covering size bytes of buffer id from offset.
func Buffer(id ResourceID, offset, size uint64) Range {
	return resource.Buffer(id, offset, size)
}

// NewAccess validates a stage/access pair.
func NewAccess(s Stage, k AccessKind) (Access, error) {
	return stage.NewAccess(s, k)
}

// MustAccess is NewAccess for pairs known to be valid. It panics otherwise.
func MustAccess(s Stage, k AccessKind) Access {
	return stage.MustAccess(s, k)
}

// ParseStages parses a stage list such as "COPY|VERTEX_SHADER".
func ParseStages(s string) (Stage, error) {
	return stage.ParseMask(s)
}

// NewWriterSink returns a sink that writes a report for each hazard to w.
func NewWriterSink(w io.Writer) Sink {
	return hazard.NewWriterSink(w)
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return scenario.Load(path)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	return scenario.Parse(data)
}
