// Package scenario reads YAML scenario files and replays them against an
// engine.
//
// A scenario declares queues, semaphores, fences, resources and command
// buffers, then lists the steps to run in order: submissions and host calls.
// An optional expect block states the hazard counts the replay must produce.
//
//	format: v1.0.0
//	name: copy then read
//	queues:
//	  - {name: gfx, family: graphics}
//	  - {name: xfer, family: transfer}
//	semaphores:
//	  - {name: done, kind: timeline}
//	buffers:
//	  - {name: staging, size: 4096}
//	command_buffers:
//	  - name: upload
//	    commands:
//	      - access: {buffer: staging, stage: COPY, kind: TRANSFER_WRITE}
//	  - name: draw
//	    commands:
//	      - access: {buffer: staging, stage: VERTEX_SHADER, kind: SHADER_STORAGE_READ}
//	steps:
//	  - submit: {queue: xfer, command_buffers: [upload], signals: [{semaphore: done, value: 1, stages: COPY}]}
//	  - submit: {queue: gfx, command_buffers: [draw], waits: [{semaphore: done, value: 1, stages: VERTEX_SHADER}]}
//	expect:
//	  hazards: {}
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/syncval/internal/syncval/cmdlog"
	"github.com/kolkov/syncval/internal/syncval/hazard"
	"github.com/kolkov/syncval/internal/syncval/queue"
	"github.com/kolkov/syncval/internal/syncval/resource"
	"github.com/kolkov/syncval/internal/syncval/stage"
	"github.com/kolkov/syncval/internal/syncval/timeline"
)

// Format is the newest scenario format this package reads. Files with the
// same major version and an equal or older minor version are accepted.
const Format = "v1.1.0"

// MaxFileSize bounds scenario files read by Load.
const MaxFileSize = 4 << 20

var (
	// ErrInvalid is wrapped by every validation error.
	ErrInvalid = errors.New("scenario: invalid scenario")

	// ErrUnsupportedFormat is returned for a missing, malformed or newer
	// format version.
	ErrUnsupportedFormat = errors.New("scenario: unsupported format")
)

// Scenario is a parsed scenario file. Call Validate (Load and Parse do)
// before Run.
type Scenario struct {
	Format         string          `yaml:"format"`
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description,omitempty"`
	Queues         []QueueDecl     `yaml:"queues"`
	Semaphores     []SemaphoreDecl `yaml:"semaphores,omitempty"`
	Fences         []FenceDecl     `yaml:"fences,omitempty"`
	Buffers        []BufferDecl    `yaml:"buffers,omitempty"`
	Images         []ImageDecl     `yaml:"images,omitempty"`
	CommandBuffers []CommandBuffer `yaml:"command_buffers,omitempty"`
	Steps          []Step          `yaml:"steps"`
	Expect         *Expect         `yaml:"expect,omitempty"`

	// compiled by Validate
	families map[string]queue.Family
	sems     map[string]semaphoreInfo
	fences   map[string]bool
	logs     map[string]*cmdlog.Log
	masks    map[string]stage.Mask
	expected map[hazard.Kind]uint64
}

type semaphoreInfo struct {
	kind     timeline.Kind
	initial  uint64
	external bool
}

// QueueDecl declares a queue.
type QueueDecl struct {
	Name   string `yaml:"name"`
	Family string `yaml:"family,omitempty"`
}

// SemaphoreDecl declares a semaphore. External semaphores model handles
// imported from outside the device.
type SemaphoreDecl struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind,omitempty"`
	Initial  uint64 `yaml:"initial,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

// FenceDecl declares a fence.
type FenceDecl struct {
	Name     string `yaml:"name"`
	Signaled bool   `yaml:"signaled,omitempty"`
}

// BufferDecl declares a buffer of Size bytes.
type BufferDecl struct {
	Name string `yaml:"name"`
	Size uint64 `yaml:"size"`
}

// ImageDecl declares an image by its subresource layout.
type ImageDecl struct {
	Name      string `yaml:"name"`
	Aspects   uint32 `yaml:"aspects,omitempty"`
	MipLevels uint32 `yaml:"mip_levels,omitempty"`
	Layers    uint32 `yaml:"layers,omitempty"`
}

// CommandBuffer is a named list of recorded commands.
type CommandBuffer struct {
	Name     string    `yaml:"name"`
	Commands []Command `yaml:"commands"`
}

// Command is either an access or a pipeline barrier.
type Command struct {
	Access  *Access  `yaml:"access,omitempty"`
	Barrier *Barrier `yaml:"barrier,omitempty"`
}

// Access is a resource access. It names a buffer (with an optional byte
// range; a zero size means up to the end) or an image (with an optional
// subresource selection; zero counts mean every remaining subresource).
type Access struct {
	Buffer string `yaml:"buffer,omitempty"`
	Offset uint64 `yaml:"offset,omitempty"`
	Size   uint64 `yaml:"size,omitempty"`

	Image       string `yaml:"image,omitempty"`
	BaseAspect  uint32 `yaml:"base_aspect,omitempty"`
	AspectCount uint32 `yaml:"aspect_count,omitempty"`
	BaseMip     uint32 `yaml:"base_mip,omitempty"`
	MipCount    uint32 `yaml:"mip_count,omitempty"`
	BaseLayer   uint32 `yaml:"base_layer,omitempty"`
	LayerCount  uint32 `yaml:"layer_count,omitempty"`

	Stage string `yaml:"stage"`
	Kind  string `yaml:"kind"`
	Label string `yaml:"label,omitempty"`
}

// Barrier is a pipeline barrier between two stage lists.
type Barrier struct {
	Src   string `yaml:"src"`
	Dst   string `yaml:"dst"`
	Label string `yaml:"label,omitempty"`
}

// Step is one action. Exactly one of the action fields must be set.
type Step struct {
	Name string `yaml:"name,omitempty"`

	Submit         *Submit         `yaml:"submit,omitempty"`
	Signal         *SemaphoreValue `yaml:"signal,omitempty"`
	Observe        *SemaphoreValue `yaml:"observe,omitempty"`
	Counter        *SemaphoreValue `yaml:"counter,omitempty"`
	WaitSemaphores *WaitSemaphores `yaml:"wait_semaphores,omitempty"`
	WaitFences     *WaitFences     `yaml:"wait_fences,omitempty"`
	ResetFences    []string        `yaml:"reset_fences,omitempty"`
	FenceStatus    *FenceStatus    `yaml:"fence_status,omitempty"`
	DeviceWaitIdle bool            `yaml:"device_wait_idle,omitempty"`
	QueueWaitIdle  string          `yaml:"queue_wait_idle,omitempty"`

	// Error, if set, is a substring the step's error must contain. A step
	// that is expected to fail and succeeds fails the replay.
	Error string `yaml:"error,omitempty"`
}

// Submit is a queue submission.
type Submit struct {
	Queue          string      `yaml:"queue"`
	CommandBuffers []string    `yaml:"command_buffers,omitempty"`
	Waits          []Operation `yaml:"waits,omitempty"`
	Signals        []Operation `yaml:"signals,omitempty"`
	Fence          string      `yaml:"fence,omitempty"`
}

// Operation is a semaphore wait or signal of a submission. Stages is a
// stage list such as "COPY|VERTEX_SHADER"; an empty list means ALL_COMMANDS.
type Operation struct {
	Semaphore string `yaml:"semaphore"`
	Value     uint64 `yaml:"value,omitempty"`
	Stages    string `yaml:"stages,omitempty"`
}

// SemaphoreValue names a semaphore and a counter value. For counter steps
// Value is the expected current value.
type SemaphoreValue struct {
	Semaphore string `yaml:"semaphore"`
	Value     uint64 `yaml:"value"`
}

// WaitSemaphores is a host wait on semaphore values.
type WaitSemaphores struct {
	Waits []SemaphoreValue `yaml:"waits"`
	Any   bool             `yaml:"any,omitempty"`
}

// WaitFences is a host wait on fences.
type WaitFences struct {
	Fences []string `yaml:"fences"`
	Any    bool     `yaml:"any,omitempty"`
}

// FenceStatus queries a fence and compares the result with Signaled.
type FenceStatus struct {
	Fence    string `yaml:"fence"`
	Signaled bool   `yaml:"signaled"`
}

// Expect states the outcome of a replay.
type Expect struct {
	// Hazards maps kind names to unique hazard counts. Kinds not listed
	// must not occur.
	Hazards map[string]uint64 `yaml:"hazards"`

	// PendingWaits, if set, is the number of unresolved waits left.
	PendingWaits *int `yaml:"pending_waits,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, MaxFileSize)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// CheckFormat reports whether v is a format version this package reads.
func CheckFormat(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedFormat, v)
	}
	if semver.Major(v) != semver.Major(Format) || semver.Compare(v, Format) > 0 {
		return fmt.Errorf("%w: %s (supported up to %s)", ErrUnsupportedFormat, v, Format)
	}
	return nil
}

// Validate checks the scenario and resolves every name it uses.
func (s *Scenario) Validate() error {
	if err := CheckFormat(s.Format); err != nil {
		return err
	}
	v := validator{s: s}
	v.declarations()
	v.commandBuffers()
	for i := range s.Steps {
		v.step(i, &s.Steps[i])
	}
	v.expect()
	if len(v.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(v.errs...))
	}
	return nil
}

type validator struct {
	s    *Scenario
	errs []error

	buffers map[string]resource.Range
	images  map[string]resource.Image
}

func (v *validator) errorf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

// unique reports whether name is usable as a new key of seen.
func unique[V any](v *validator, what, name string, seen map[string]V) bool {
	if name == "" {
		v.errorf("%s without a name", what)
		return false
	}
	if _, dup := seen[name]; dup {
		v.errorf("duplicate %s %q", what, name)
		return false
	}
	return true
}

func (v *validator) declarations() {
	s := v.s
	s.families = make(map[string]queue.Family, len(s.Queues))
	for _, q := range s.Queues {
		if !unique(v, "queue", q.Name, s.families) {
			continue
		}
		f, err := queue.ParseFamily(q.Family)
		if err != nil {
			v.errorf("queue %q: %w", q.Name, err)
			continue
		}
		s.families[q.Name] = f
	}
	if len(s.Queues) == 0 {
		v.errorf("no queues declared")
	}

	s.sems = make(map[string]semaphoreInfo, len(s.Semaphores))
	for _, d := range s.Semaphores {
		if !unique(v, "semaphore", d.Name, s.sems) {
			continue
		}
		k, err := timeline.ParseKind(d.Kind)
		if err != nil {
			v.errorf("semaphore %q: %w", d.Name, err)
			continue
		}
		if k == timeline.Binary && d.Initial != 0 {
			v.errorf("semaphore %q: binary semaphores have no initial value", d.Name)
		}
		s.sems[d.Name] = semaphoreInfo{kind: k, initial: d.Initial, external: d.External}
	}

	s.fences = make(map[string]bool, len(s.Fences))
	for _, d := range s.Fences {
		if unique(v, "fence", d.Name, s.fences) {
			s.fences[d.Name] = d.Signaled
		}
	}

	// Resource ids follow declaration order: buffers first, then images.
	id := resource.ID(1)
	v.buffers = make(map[string]resource.Range, len(s.Buffers))
	v.images = make(map[string]resource.Image, len(s.Images))
	for _, d := range s.Buffers {
		if unique(v, "buffer", d.Name, v.buffers) && unique(v, "resource", d.Name, v.images) {
			if d.Size == 0 {
				v.errorf("buffer %q: zero size", d.Name)
			}
			v.buffers[d.Name] = resource.Buffer(id, 0, d.Size)
		}
		id++
	}
	for _, d := range s.Images {
		if unique(v, "image", d.Name, v.images) && unique(v, "resource", d.Name, v.buffers) {
			v.images[d.Name] = resource.Image{
				ID:        id,
				Aspects:   max(d.Aspects, 1),
				MipLevels: max(d.MipLevels, 1),
				Layers:    max(d.Layers, 1),
			}
		}
		id++
	}
}

func (v *validator) commandBuffers() {
	s := v.s
	s.logs = make(map[string]*cmdlog.Log, len(s.CommandBuffers))
	for _, cb := range s.CommandBuffers {
		if !unique(v, "command buffer", cb.Name, s.logs) {
			continue
		}
		l := cmdlog.New(cb.Name)
		for i, c := range cb.Commands {
			if err := v.command(l, c); err != nil {
				v.errorf("command buffer %q command %d: %w", cb.Name, i, err)
			}
		}
		s.logs[cb.Name] = l
	}
}

func (v *validator) command(l *cmdlog.Log, c Command) error {
	switch {
	case c.Access != nil && c.Barrier != nil:
		return errors.New("access and barrier in one command")
	case c.Barrier != nil:
		src, err := stage.ParseMask(c.Barrier.Src)
		if err != nil {
			return err
		}
		dst, err := stage.ParseMask(c.Barrier.Dst)
		if err != nil {
			return err
		}
		return l.Barrier(src, dst, c.Barrier.Label)
	case c.Access != nil:
		a := c.Access
		m, err := stage.ParseMask(a.Stage)
		if err != nil {
			return err
		}
		k, err := stage.ParseKind(a.Kind)
		if err != nil {
			return err
		}
		sa, err := stage.NewAccess(m, k)
		if err != nil {
			return err
		}
		ranges, err := v.ranges(a)
		if err != nil {
			return err
		}
		for _, r := range ranges {
			if err := l.Access(r, sa, a.Label); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New("empty command")
	}
}

func (v *validator) ranges(a *Access) ([]resource.Range, error) {
	switch {
	case a.Buffer != "" && a.Image != "":
		return nil, errors.New("access names both a buffer and an image")
	case a.Buffer != "":
		whole, ok := v.buffers[a.Buffer]
		if !ok {
			return nil, fmt.Errorf("unknown buffer %q", a.Buffer)
		}
		size := a.Size
		if size == 0 && a.Offset < whole.End {
			size = whole.End - a.Offset
		}
		r := resource.Buffer(whole.Resource, a.Offset, size)
		if !whole.Contains(r) {
			return nil, fmt.Errorf("%s outside buffer %q", r, a.Buffer)
		}
		return []resource.Range{r}, nil
	case a.Image != "":
		img, ok := v.images[a.Image]
		if !ok {
			return nil, fmt.Errorf("unknown image %q", a.Image)
		}
		sel := resource.Subresources{
			BaseAspect:  a.BaseAspect,
			AspectCount: remaining(a.AspectCount, a.BaseAspect, img.Aspects),
			BaseMip:     a.BaseMip,
			MipCount:    remaining(a.MipCount, a.BaseMip, img.MipLevels),
			BaseLayer:   a.BaseLayer,
			LayerCount:  remaining(a.LayerCount, a.BaseLayer, img.Layers),
		}
		return img.Ranges(sel)
	default:
		return nil, errors.New("access names no resource")
	}
}

// remaining resolves a zero count to everything from base up to total.
func remaining(count, base, total uint32) uint32 {
	if count != 0 || base >= total {
		return count
	}
	return total - base
}

func (v *validator) semaphore(at, name string) {
	if _, ok := v.s.sems[name]; !ok {
		v.errorf("%s: unknown semaphore %q", at, name)
	}
}

func (v *validator) fence(at, name string) {
	if _, ok := v.s.fences[name]; !ok {
		v.errorf("%s: unknown fence %q", at, name)
	}
}

func (v *validator) stages(at, list string) {
	if list == "" {
		return
	}
	m, err := stage.ParseMask(list)
	if err != nil {
		v.errorf("%s: %w", at, err)
		return
	}
	if v.s.masks == nil {
		v.s.masks = make(map[string]stage.Mask)
	}
	v.s.masks[list] = m
}

func (v *validator) step(i int, st *Step) {
	at := fmt.Sprintf("step %d", i)
	if st.Name != "" {
		at = fmt.Sprintf("step %d (%s)", i, st.Name)
	}
	if n := st.actions(); n != 1 {
		v.errorf("%s: %d actions, want exactly one", at, n)
		return
	}
	switch {
	case st.Submit != nil:
		sub := st.Submit
		if _, ok := v.s.families[sub.Queue]; !ok {
			v.errorf("%s: unknown queue %q", at, sub.Queue)
		}
		for _, name := range sub.CommandBuffers {
			if _, ok := v.s.logs[name]; !ok {
				v.errorf("%s: unknown command buffer %q", at, name)
			}
		}
		for _, op := range append(append([]Operation(nil), sub.Waits...), sub.Signals...) {
			v.semaphore(at, op.Semaphore)
			v.stages(at, op.Stages)
		}
		if sub.Fence != "" {
			v.fence(at, sub.Fence)
		}
	case st.Signal != nil:
		v.semaphore(at, st.Signal.Semaphore)
	case st.Observe != nil:
		v.semaphore(at, st.Observe.Semaphore)
	case st.Counter != nil:
		v.semaphore(at, st.Counter.Semaphore)
	case st.WaitSemaphores != nil:
		for _, w := range st.WaitSemaphores.Waits {
			v.semaphore(at, w.Semaphore)
		}
	case st.WaitFences != nil:
		for _, f := range st.WaitFences.Fences {
			v.fence(at, f)
		}
	case st.ResetFences != nil:
		for _, f := range st.ResetFences {
			v.fence(at, f)
		}
	case st.FenceStatus != nil:
		v.fence(at, st.FenceStatus.Fence)
	case st.QueueWaitIdle != "":
		if _, ok := v.s.families[st.QueueWaitIdle]; !ok {
			v.errorf("%s: unknown queue %q", at, st.QueueWaitIdle)
		}
	}
}

// actions counts the action fields set on st.
func (st *Step) actions() int {
	n := 0
	for _, set := range []bool{
		st.Submit != nil,
		st.Signal != nil,
		st.Observe != nil,
		st.Counter != nil,
		st.WaitSemaphores != nil,
		st.WaitFences != nil,
		st.ResetFences != nil,
		st.FenceStatus != nil,
		st.DeviceWaitIdle,
		st.QueueWaitIdle != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func (v *validator) expect() {
	e := v.s.Expect
	if e == nil {
		return
	}
	names := make(map[string]hazard.Kind, len(hazard.Kinds()))
	for _, k := range hazard.Kinds() {
		names[k.String()] = k
	}
	v.s.expected = make(map[hazard.Kind]uint64, len(names))
	for name, n := range e.Hazards {
		k, ok := names[name]
		if !ok {
			v.errorf("expect: unknown hazard kind %q", name)
			continue
		}
		v.s.expected[k] = n
	}
}
