// Package hotload keeps every GPU program behind a stable handle and swaps in recompiled versions
// when their source files change. Recompiles never block the frame: front-ends run on a worker
// pool, replacements are linked on the main thread, and the programs they replace are released one
// call later.
package hotload

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/shader"
	"go.uber.org/zap"
)

// ProgramHandle is the stable identity of a registered program. Handles are assigned from 0 in
// registration order and are never reused.
type ProgramHandle int

// ReloadResult classifies one recompile attempt.
type ReloadResult string

const (
	ReloadResultOK        ReloadResult = "ok"
	ReloadResultFailed    ReloadResult = "failed"
	ReloadResultUnchanged ReloadResult = "unchanged"
)

// program is one slot of the cache. Only the main thread stores into current.
type program struct {
	key     string
	units   []shader.SourceUnit
	opts    []pipeline.PipelineBuilderOption
	current atomic.Pointer[linkedProgram]
}

type linkedProgram struct {
	pipeline pipeline.Pipeline
}

// frontendResult is what a worker hands back for one program.
type frontendResult struct {
	shaders []shader.Shader
	err     error
}

// cache is the implementation of the Cache interface.
type cache struct {
	mu *sync.RWMutex

	linker    pipeline.Linker
	logger    *zap.Logger
	workers   int
	pool      worker.DynamicWorkerPool
	observer  func(program string, result ReloadResult)
	validator Validator

	programs []*program
	owners   map[string]ProgramHandle

	// retired holds replaced pipelines until the next NotifyChanged call.
	retired []pipeline.Pipeline
	closed  bool
}

// Cache owns every program and resolves handles to their current version.
type Cache interface {
	Notifier

	// Register compiles and links a program now and assigns it the next handle.
	//
	// Parameters:
	//   - key: the program name
	//   - units: the source units of the program
	//   - opts: pipeline builder options applied to every build of the program
	//
	// Returns:
	//   - ProgramHandle: the new handle
	//   - error: a *RegistrationError, in which case no handle is consumed
	Register(key string, units []shader.SourceUnit, opts ...pipeline.PipelineBuilderOption) (ProgramHandle, error)

	// Resolve returns the current version of a program without waiting on any recompile.
	//
	// Parameters:
	//   - h: the program handle
	//
	// Returns:
	//   - pipeline.Pipeline: the current pipeline, or nil for an unknown handle
	Resolve(h ProgramHandle) pipeline.Pipeline

	// Handles returns every registered handle in order.
	//
	// Returns:
	//   - []ProgramHandle: the handles
	Handles() []ProgramHandle

	// Len returns the number of registered programs.
	//
	// Returns:
	//   - int: the program count
	Len() int

	// Owner returns the handle of the program that owns a source path.
	//
	// Parameters:
	//   - path: the source path, canonicalised before lookup
	//
	// Returns:
	//   - ProgramHandle: the owning handle
	//   - bool: false if no program owns the path
	Owner(path string) (ProgramHandle, bool)

	// Paths returns every owned canonical source path, sorted.
	//
	// Returns:
	//   - []string: the paths
	Paths() []string

	// Key returns the name a program was registered under.
	//
	// Parameters:
	//   - h: the program handle
	//
	// Returns:
	//   - string: the program key, or an empty string for an unknown handle
	Key(h ProgramHandle) string

	// Close stops the worker pool and releases every current and retired program.
	Close()
}

var _ Cache = &cache{}

// NewCache creates an empty Cache that links programs through linker.
//
// Parameters:
//   - linker: the linker creating GPU pipelines, usually the renderer
//   - options: variadic list of CacheBuilderOption functions
//
// Returns:
//   - Cache: the new cache
func NewCache(linker pipeline.Linker, options ...CacheBuilderOption) Cache {
	c := &cache{
		mu:      &sync.RWMutex{},
		linker:  linker,
		logger:  zap.NewNop(),
		workers: 4,
		owners:  make(map[string]ProgramHandle),
	}

	for _, opt := range options {
		opt(c)
	}

	c.pool = worker.NewDynamicWorkerPool(c.workers, 256, 1*time.Second)
	return c
}

func (c *cache) Register(key string, units []shader.SourceUnit, opts ...pipeline.PipelineBuilderOption) (ProgramHandle, error) {
	canonical := make([]shader.SourceUnit, len(units))
	for i, u := range units {
		canonical[i] = shader.SourceUnit{Kind: u.Kind, Path: canonicalPath(u.Path)}
	}

	if err := c.checkOwnership(key, canonical); err != nil {
		return -1, err
	}

	p, err := pipeline.Compile(key, canonical, c.linker, opts...)
	if err != nil {
		return -1, &RegistrationError{Program: key, Err: err}
	}
	if err := c.validate(key, nil, p); err != nil {
		return -1, &RegistrationError{Program: key, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOwnershipLocked(key, canonical); err != nil {
		c.linker.Unlink(p)
		return -1, err
	}

	h := ProgramHandle(len(c.programs))
	prog := &program{key: key, units: canonical, opts: opts}
	prog.current.Store(&linkedProgram{pipeline: p})
	c.programs = append(c.programs, prog)
	for _, u := range canonical {
		c.owners[u.Path] = h
	}

	c.logger.Info("program registered",
		zap.String("program", key),
		zap.Int("handle", int(h)),
		zap.String("type", p.Type().String()),
	)
	return h, nil
}

func (c *cache) checkOwnership(key string, units []shader.SourceUnit) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkOwnershipLocked(key, units)
}

func (c *cache) checkOwnershipLocked(key string, units []shader.SourceUnit) error {
	if c.closed {
		return &RegistrationError{Program: key, Err: errors.New("cache is closed")}
	}
	for _, u := range units {
		if h, ok := c.owners[u.Path]; ok {
			return &RegistrationError{
				Program: key,
				Err:     fmt.Errorf("%s is already owned by program %q (handle %d)", u.Path, c.programs[h].key, h),
			}
		}
	}
	return nil
}

func (c *cache) Resolve(h ProgramHandle) pipeline.Pipeline {
	c.mu.RLock()
	if h < 0 || int(h) >= len(c.programs) {
		c.mu.RUnlock()
		return nil
	}
	prog := c.programs[h]
	c.mu.RUnlock()

	lp := prog.current.Load()
	if lp == nil {
		return nil
	}
	return lp.pipeline
}

func (c *cache) NotifyChanged(paths []string) []*ReloadError {
	c.releaseRetired()

	handles := c.owningHandles(paths)
	if len(handles) == 0 {
		return nil
	}

	c.mu.RLock()
	progs := make([]*program, len(handles))
	for i, h := range handles {
		progs[i] = c.programs[h]
	}
	c.mu.RUnlock()

	results := make([]frontendResult, len(progs))
	var wg sync.WaitGroup
	for i, prog := range progs {
		wg.Add(1)
		c.pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				shaders, err := pipeline.Frontend(prog.units)
				results[i] = frontendResult{shaders: shaders, err: err}
				return nil, err
			},
		})
	}
	wg.Wait()

	var errs []*ReloadError
	for i, prog := range progs {
		if err := c.replace(handles[i], prog, results[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// replace links a recompiled program and swaps it into its slot. It runs on the main thread.
func (c *cache) replace(h ProgramHandle, prog *program, res frontendResult) *ReloadError {
	fail := func(err error) *ReloadError {
		rerr := &ReloadError{Handle: h, Program: prog.key, Err: err}
		c.logger.Error("program reload failed",
			zap.String("program", prog.key),
			zap.Int("handle", int(h)),
			zap.Error(err),
		)
		c.observe(prog.key, ReloadResultFailed)
		return rerr
	}

	if res.err != nil {
		return fail(res.err)
	}

	old := prog.current.Load()
	if old != nil && old.pipeline.Hash() == pipeline.Hash(res.shaders) {
		c.logger.Debug("program unchanged",
			zap.String("program", prog.key),
			zap.Int("handle", int(h)),
		)
		c.observe(prog.key, ReloadResultUnchanged)
		return nil
	}

	p, err := pipeline.Link(prog.key, res.shaders, c.linker, prog.opts...)
	if err != nil {
		return fail(err)
	}
	var current pipeline.Pipeline
	if old != nil {
		current = old.pipeline
	}
	if err := c.validate(prog.key, current, p); err != nil {
		return fail(err)
	}

	prog.current.Store(&linkedProgram{pipeline: p})
	if old != nil {
		c.mu.Lock()
		c.retired = append(c.retired, old.pipeline)
		c.mu.Unlock()
	}

	c.logger.Info("program reloaded",
		zap.String("program", prog.key),
		zap.Int("handle", int(h)),
	)
	c.observe(prog.key, ReloadResultOK)
	return nil
}

// validate runs the validator over a freshly linked version and unlinks it when rejected.
func (c *cache) validate(key string, current, next pipeline.Pipeline) error {
	if c.validator == nil {
		return nil
	}
	if err := c.validator(key, current, next); err != nil {
		c.linker.Unlink(next)
		return err
	}
	return nil
}

func (c *cache) observe(key string, result ReloadResult) {
	if c.observer != nil {
		c.observer(key, result)
	}
}

// owningHandles maps changed paths to the sorted, unique handles that own them.
func (c *cache) owningHandles(paths []string) []ProgramHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[ProgramHandle]struct{})
	var handles []ProgramHandle
	for _, path := range paths {
		h, ok := c.owners[canonicalPath(path)]
		if !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

func (c *cache) releaseRetired() {
	c.mu.Lock()
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	for _, p := range retired {
		c.linker.Unlink(p)
	}
}

func (c *cache) Handles() []ProgramHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handles := make([]ProgramHandle, len(c.programs))
	for i := range c.programs {
		handles[i] = ProgramHandle(i)
	}
	return handles
}

func (c *cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

func (c *cache) Owner(path string) (ProgramHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.owners[canonicalPath(path)]
	return h, ok
}

func (c *cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.owners))
	for p := range c.owners {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (c *cache) Key(h ProgramHandle) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h < 0 || int(h) >= len(c.programs) {
		return ""
	}
	return c.programs[h].key
}

func (c *cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	progs := c.programs
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	c.pool.Stop()
	for _, p := range retired {
		c.linker.Unlink(p)
	}
	for _, prog := range progs {
		if lp := prog.current.Swap(nil); lp != nil {
			c.linker.Unlink(lp.pipeline)
		}
	}
}

// canonicalPath returns the absolute, symlink-free form of path. Paths that do not exist keep
// their absolute form.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
