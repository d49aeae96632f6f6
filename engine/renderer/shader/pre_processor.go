// pre_processor.go implements the WGSL pre-processor. It scans source for @oxy: annotations,
// replaces them with the embedded struct source or generated declarations, and collects the
// group declarations so callers can reflect which bindings carry engine-owned GPU types.
package shader

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/particle"
)

// registryEntry pairs a WGSL struct source string with the WGSL type name used in generated declarations.
type registryEntry struct {
	Source string
	Type   string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	structRegistry       map[AnnotationArg]registryEntry
	addressSpaceRegistry map[AnnotationArg]string

	// declarations accumulates group annotations during a Process call.
	declarations []Annotation

	// included tracks which struct sources were already emitted during a Process call.
	included map[AnnotationArg]bool
}

// PreProcessor processes raw WGSL source containing @oxy: annotations.
// A PreProcessor is not safe for concurrent use; create one per compilation.
type PreProcessor interface {
	// Process replaces @oxy: annotations in source with their WGSL output. Each registered
	// struct is emitted at most once, and a group annotation whose type was not included yet
	// emits the struct source ahead of the declaration.
	//
	// Parameters:
	//   - source: the raw WGSL source code containing annotations
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if any annotation is malformed or references an unknown type
	Process(source string) (string, error)

	// Declarations returns the group annotations collected by the most recent Process call, in source order.
	//
	// Returns:
	//   - []Annotation: the collected declarations
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a new PreProcessor with the engine's GPU struct types registered.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			AnnotationArgFrameUniforms: {Source: frame.GPUFrameUniformsSource, Type: "FrameUniforms"},
			AnnotationArgParticle:      {Source: particle.GPUParticleSource, Type: "Particle"},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]
	p.included = make(map[AnnotationArg]bool)

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			out = p.include(out, a.Args[0])
		case AnnotationTypeBindingGroup:
			typeArg := string(a.Args[2])
			elem, isArray := strings.CutPrefix(typeArg, "array<")
			elem = strings.TrimSuffix(elem, ">")
			out = p.include(out, AnnotationArg(elem))

			wgslType := p.structRegistry[AnnotationArg(elem)].Type
			if isArray {
				wgslType = fmt.Sprintf("array<%s>", wgslType)
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;",
				*a.Group, *a.Binding, p.addressSpaceRegistry[a.Args[0]], a.Args[1], wgslType))
			p.declarations = append(p.declarations, *a)
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

// include appends the struct source for key to out unless it was already emitted.
func (p *preProcessor) include(out []string, key AnnotationArg) []string {
	if p.included[key] {
		return out
	}
	p.included[key] = true
	return append(out, p.structRegistry[key].Source)
}
