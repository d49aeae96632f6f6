package shader

import "fmt"

// CompileError reports a front-end failure for a single source unit: unreadable text, a malformed
// annotation, a WGSL syntax or validation error, or a missing entry point.
type CompileError struct {
	Unit    SourceUnit
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s (%s): %s", e.Unit.Path, e.Unit.Kind, e.Message)
}
