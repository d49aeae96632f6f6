// Package renderertest provides an in-memory renderer.Renderer that records every call, for
// testing the swap pool, program cache and sequencer without a GPU.
package renderertest

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-fluid/common"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
)

// Op names the kind of a recorded call.
type Op string

const (
	OpBeginCompute Op = "begin_compute"
	OpDispatch     Op = "dispatch"
	OpBarrier      Op = "barrier"
	OpEndCompute   Op = "end_compute"
	OpBeginFrame   Op = "begin_frame"
	OpDraw         Op = "draw"
	OpEndFrame     Op = "end_frame"
	OpPresent      Op = "present"
)

// Call is one recorded renderer call.
type Call struct {
	Op         Op
	Program    string
	Bindings   []renderer.Binding
	Uniforms   []byte
	Workgroups [3]uint32
	Vertices   uint32
	Clear      bool
}

// Renderer is a recording renderer.Renderer. Linked pipelines get an int handle.
type Renderer struct {
	mu sync.Mutex

	// LinkErr, when set, makes Link fail for every pipeline key it returns a non-nil error for.
	LinkErr func(key string) error

	// AllocErr, when set, makes resource creation fail for every label it returns a non-nil error for.
	AllocErr func(label string) error

	// DispatchErr, when set, makes DispatchCompute fail whenever it returns a non-nil error. n is
	// the number of dispatches already recorded for the pipeline key.
	DispatchErr func(key string, n int) error

	calls     []Call
	nextID    renderer.ResourceID
	labels    map[renderer.ResourceID]string
	linked    map[pipeline.Pipeline]struct{}
	linkCount int
	unlinked  []pipeline.Pipeline
	released  bool
	width     int
	height    int
}

var _ renderer.Renderer = &Renderer{}

// New returns an empty recording renderer.
func New() *Renderer {
	return &Renderer{
		labels: make(map[renderer.ResourceID]string),
		linked: make(map[pipeline.Pipeline]struct{}),
	}
}

func (r *Renderer) Link(p pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.LinkErr != nil {
		if err := r.LinkErr(p.PipelineKey()); err != nil {
			return err
		}
	}
	r.linkCount++
	p.SetHandle(r.linkCount)
	r.linked[p] = struct{}{}
	return nil
}

func (r *Renderer) Unlink(p pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.linked[p]; !ok {
		return
	}
	delete(r.linked, p)
	r.unlinked = append(r.unlinked, p)
	p.SetHandle(nil)
}

func (r *Renderer) allocate(label string) (renderer.ResourceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.AllocErr != nil {
		if err := r.AllocErr(label); err != nil {
			return 0, &renderer.ResourceAllocationError{Label: label, Err: err}
		}
	}
	r.nextID++
	r.labels[r.nextID] = label
	return r.nextID, nil
}

func (r *Renderer) CreateFieldTexture(label string, shape renderer.FieldShape) (renderer.ResourceID, error) {
	if shape.Width == 0 || shape.Height == 0 {
		return 0, &renderer.ResourceAllocationError{Label: label, Err: fmt.Errorf("empty shape %dx%d", shape.Width, shape.Height)}
	}
	return r.allocate(label)
}

func (r *Renderer) CreateStorageBuffer(label string, data []byte) (renderer.ResourceID, error) {
	if len(data) == 0 {
		return 0, &renderer.ResourceAllocationError{Label: label, Err: fmt.Errorf("empty buffer")}
	}
	return r.allocate(label)
}

func (r *Renderer) CreateSampler(label string, _ common.SamplerStagingData) (renderer.ResourceID, error) {
	return r.allocate(label)
}

func (r *Renderer) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Renderer) checkLinked(p pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.linked[p]; !ok {
		return fmt.Errorf("pipeline %q is not linked", p.PipelineKey())
	}
	return nil
}

func (r *Renderer) BeginComputeFrame() error {
	r.record(Call{Op: OpBeginCompute})
	return nil
}

func (r *Renderer) DispatchCompute(p pipeline.Pipeline, bindings []renderer.Binding, uniforms []byte, workGroupCount [3]uint32) error {
	if err := r.checkLinked(p); err != nil {
		return err
	}
	if r.DispatchErr != nil {
		if err := r.DispatchErr(p.PipelineKey(), r.dispatchCount(p.PipelineKey())); err != nil {
			return err
		}
	}
	r.record(Call{
		Op:         OpDispatch,
		Program:    p.PipelineKey(),
		Bindings:   append([]renderer.Binding(nil), bindings...),
		Uniforms:   append([]byte(nil), uniforms...),
		Workgroups: workGroupCount,
	})
	return nil
}

func (r *Renderer) dispatchCount(key string) int {
	n := 0
	for _, c := range r.CallsOf(OpDispatch) {
		if c.Program == key {
			n++
		}
	}
	return n
}

func (r *Renderer) Barrier() error {
	r.record(Call{Op: OpBarrier})
	return nil
}

func (r *Renderer) EndComputeFrame() {
	r.record(Call{Op: OpEndCompute})
}

func (r *Renderer) BeginFrame(clear bool) error {
	r.record(Call{Op: OpBeginFrame, Clear: clear})
	return nil
}

func (r *Renderer) DrawCall(p pipeline.Pipeline, bindings []renderer.Binding, uniforms []byte, vertexCount uint32) error {
	if err := r.checkLinked(p); err != nil {
		return err
	}
	r.record(Call{
		Op:       OpDraw,
		Program:  p.PipelineKey(),
		Bindings: append([]renderer.Binding(nil), bindings...),
		Uniforms: append([]byte(nil), uniforms...),
		Vertices: vertexCount,
	})
	return nil
}

func (r *Renderer) EndFrame() {
	r.record(Call{Op: OpEndFrame})
}

func (r *Renderer) Present() {
	r.record(Call{Op: OpPresent})
}

func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = width, height
}

func (r *Renderer) SetPresentMode(renderer.PresentMode) {}

func (r *Renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.linked {
		p.SetHandle(nil)
		delete(r.linked, p)
	}
	r.released = true
}

// Calls returns a copy of every recorded call.
func (r *Renderer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls of one kind.
func (r *Renderer) CallsOf(op Op) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets every recorded call.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Label returns the label a resource was created with.
func (r *Renderer) Label(id renderer.ResourceID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels[id]
}

// LinkCount returns how many successful Link calls were made.
func (r *Renderer) LinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linkCount
}

// Linked reports whether p is currently linked.
func (r *Renderer) Linked(p pipeline.Pipeline) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.linked[p]
	return ok
}

// Unlinked returns the pipelines released through Unlink, in order.
func (r *Renderer) Unlinked() []pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Pipeline(nil), r.unlinked...)
}

// Released reports whether Release was called.
func (r *Renderer) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Size returns the last size passed to Resize.
func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}
