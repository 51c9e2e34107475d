package stage

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a memory access type. The set is closed; the detector matches it
// exhaustively.
type Kind uint8

// Access kinds.
const (
	KindInvalid Kind = iota
	IndirectCommandRead
	IndexRead
	VertexAttributeRead
	UniformRead
	ShaderSampledRead
	ShaderStorageRead
	ShaderStorageWrite
	InputAttachmentRead
	ColorAttachmentRead
	ColorAttachmentWrite
	DepthStencilAttachmentRead
	DepthStencilAttachmentWrite
	TransferRead
	TransferWrite
	HostRead
	HostWrite

	kindLimit
)

// Sentinel errors for access validation.
var (
	// ErrUnknownAccess is returned when parsing an unrecognised access name.
	ErrUnknownAccess = errors.New("stage: unknown access kind")

	// ErrIncompatibleAccess is returned when an access kind cannot be
	// performed by the given stage (e.g. TRANSFER_WRITE at VERTEX_SHADER).
	ErrIncompatibleAccess = errors.New("stage: access kind not supported by stage")

	// ErrNotSingleStage is returned when an access names zero or several
	// stages. Every recorded access happens at exactly one stage.
	ErrNotSingleStage = errors.New("stage: access must name exactly one stage")
)

type kindInfo struct {
	name   string
	write  bool
	stages Mask
}

var kinds = [kindLimit]kindInfo{
	KindInvalid:                 {"INVALID", false, None},
	IndirectCommandRead:         {"INDIRECT_COMMAND_READ", false, DrawIndirect},
	IndexRead:                   {"INDEX_READ", false, VertexInput},
	VertexAttributeRead:         {"VERTEX_ATTRIBUTE_READ", false, VertexInput},
	UniformRead:                 {"UNIFORM_READ", false, ShaderStages},
	ShaderSampledRead:           {"SHADER_SAMPLED_READ", false, ShaderStages},
	ShaderStorageRead:           {"SHADER_STORAGE_READ", false, ShaderStages},
	ShaderStorageWrite:          {"SHADER_STORAGE_WRITE", true, ShaderStages},
	InputAttachmentRead:         {"INPUT_ATTACHMENT_READ", false, FragmentShader},
	ColorAttachmentRead:         {"COLOR_ATTACHMENT_READ", false, ColorAttachmentOutput},
	ColorAttachmentWrite:        {"COLOR_ATTACHMENT_WRITE", true, ColorAttachmentOutput},
	DepthStencilAttachmentRead:  {"DEPTH_STENCIL_ATTACHMENT_READ", false, EarlyFragmentTests | LateFragmentTests},
	DepthStencilAttachmentWrite: {"DEPTH_STENCIL_ATTACHMENT_WRITE", true, EarlyFragmentTests | LateFragmentTests},
	TransferRead:                {"TRANSFER_READ", false, Copy},
	TransferWrite:               {"TRANSFER_WRITE", true, Copy},
	HostRead:                    {"HOST_READ", false, Host},
	HostWrite:                   {"HOST_WRITE", true, Host},
}

// IsWrite reports whether the access kind modifies memory.
func (k Kind) IsWrite() bool {
	if k >= kindLimit {
		return false
	}
	return kinds[k].write
}

// Valid reports whether k is a defined access kind.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindLimit
}

// SupportedStages returns the stages that can perform this access kind.
func (k Kind) SupportedStages() Mask {
	if k >= kindLimit {
		return None
	}
	return kinds[k].stages
}

// String returns the access kind name.
func (k Kind) String() string {
	if k >= kindLimit {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kinds[k].name
}

// ParseKind parses an access kind name such as "TRANSFER_WRITE".
// An optional "VK_ACCESS_2_" or "VK_ACCESS_" prefix and "_BIT" suffix are
// accepted.
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "VK_ACCESS_2_")
	name = strings.TrimPrefix(name, "VK_ACCESS_")
	name = strings.TrimSuffix(name, "_BIT")
	for k := KindInvalid + 1; k < kindLimit; k++ {
		if kinds[k].name == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: %q", ErrUnknownAccess, s)
}

// Access is a (stage, access kind) pair: the unit the detector compares.
type Access struct {
	Stage Mask
	Kind  Kind
}

// NewAccess builds and validates a stage/access pair.
func NewAccess(s Mask, k Kind) (Access, error) {
	a := Access{Stage: s, Kind: k}
	return a, a.Validate()
}

// MustAccess is NewAccess for statically known pairs; it panics on an
// invalid combination.
func MustAccess(s Mask, k Kind) Access {
	a, err := NewAccess(s, k)
	if err != nil {
		panic(err)
	}
	return a
}

// Validate checks that the pair names one stage able to perform the kind.
func (a Access) Validate() error {
	if !a.Stage.IsSingle() {
		return fmt.Errorf("%w: %s", ErrNotSingleStage, a.Stage)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAccess, a.Kind)
	}
	if !a.Kind.SupportedStages().Has(a.Stage) {
		return fmt.Errorf("%w: %s at %s", ErrIncompatibleAccess, a.Kind, a.Stage)
	}
	return nil
}

// IsWrite reports whether the access modifies memory.
func (a Access) IsWrite() bool {
	return a.Kind.IsWrite()
}

// String renders "STAGE:KIND".
func (a Access) String() string {
	return a.Stage.String() + ":" + a.Kind.String()
}

// Barrier is an execution and memory dependency between a source scope and
// a destination scope. Semaphore signal/wait pairs and pipeline barriers are
// both expressed as Barriers.
//
// Memory access scopes are not tracked separately: a barrier makes every
// write performed in its source stages available and visible to its
// destination stages.
type Barrier struct {
	Src Mask
	Dst Mask
}

// SrcScope is the effective source scope with logical expansion applied.
func (b Barrier) SrcScope() Mask {
	return b.Src.ExpandSource()
}

// DstScope is the effective destination scope with logical expansion applied.
func (b Barrier) DstScope() Mask {
	return b.Dst.ExpandDestination()
}

// IsZero reports whether the barrier has empty scopes and therefore orders
// nothing.
func (b Barrier) IsZero() bool {
	return b.Src == None && b.Dst == None
}

// String renders "SRC->DST".
func (b Barrier) String() string {
	return b.Src.String() + "->" + b.Dst.String()
}
