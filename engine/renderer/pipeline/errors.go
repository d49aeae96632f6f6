package pipeline

import "fmt"

// LinkError reports a failure to combine compiled units into a program: a bad unit composition,
// conflicting bindings across stages, or a GPU object the linker could not create.
type LinkError struct {
	Program string
	Message string
	Err     error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link %s: %s: %v", e.Program, e.Message, e.Err)
	}
	return fmt.Sprintf("link %s: %s", e.Program, e.Message)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
