package shader

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// Compile runs the CPU front-end for a unit: it reads the file at unit.Path and hands the text
// to CompileSource. It never touches the GPU and is safe to call from any goroutine.
//
// Parameters:
//   - unit: the source unit to compile
//
// Returns:
//   - Shader: the validated, reflected shader
//   - error: a *CompileError describing the first failure
func Compile(unit SourceUnit) (Shader, error) {
	data, err := os.ReadFile(unit.Path)
	if err != nil {
		return nil, &CompileError{Unit: unit, Message: fmt.Sprintf("read source: %v", err)}
	}
	return CompileSource(unit, data)
}

// CompileSource pre-processes, parses, lowers and validates WGSL text, then reflects the entry
// point for the unit's stage kind together with its workgroup size and bind group layouts.
//
// Parameters:
//   - unit: the source unit the text belongs to
//   - raw: the raw program text, which must be UTF-8
//
// Returns:
//   - Shader: the validated, reflected shader
//   - error: a *CompileError describing the first failure
func CompileSource(unit SourceUnit, raw []byte) (Shader, error) {
	fail := func(format string, args ...any) (Shader, error) {
		return nil, &CompileError{Unit: unit, Message: fmt.Sprintf(format, args...)}
	}

	if !utf8.Valid(raw) {
		return fail("source is not valid UTF-8")
	}

	pp := NewPreProcessor()
	source, err := pp.Process(string(raw))
	if err != nil {
		return fail("pre-process: %v", err)
	}

	module, err := validate(source)
	if err != nil {
		return fail("%v", err)
	}

	ep, ok := findEntryPoint(module, unit.Kind)
	if !ok {
		return fail("no @%s entry point", unit.Kind)
	}

	s := &shader{
		unit:         unit,
		source:       source,
		hash:         hashSource(source),
		entryPoint:   ep.Name,
		declarations: append([]Annotation(nil), pp.Declarations()...),
		module: &wgpu.ShaderModuleDescriptor{
			Label:          unit.Path,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
		},
	}
	if unit.Kind == ShaderTypeCompute {
		s.workGroupSize = ep.Workgroup
		for i, d := range s.workGroupSize {
			if d == 0 {
				s.workGroupSize[i] = 1
			}
		}
	}
	s.bindGroupLayoutDescriptors, s.bindingVarNames = parseBindGroupLayouts(source, unit.Kind.Visibility())
	return s, nil
}

// validate runs the naga parse, lower and validation passes over pre-processed WGSL.
func validate(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, err
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("lower: %w", err)
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = v.Error()
		}
		return nil, errors.New("validate: " + strings.Join(msgs, "; "))
	}
	return module, nil
}

func findEntryPoint(module *ir.Module, kind ShaderType) (ir.EntryPoint, bool) {
	var stage ir.ShaderStage
	switch kind {
	case ShaderTypeCompute:
		stage = ir.StageCompute
	case ShaderTypeVertex:
		stage = ir.StageVertex
	case ShaderTypeFragment:
		stage = ir.StageFragment
	default:
		return ir.EntryPoint{}, false
	}
	for _, ep := range module.EntryPoints {
		if ep.Stage == stage {
			return ep, true
		}
	}
	return ir.EntryPoint{}, false
}
