package hotload

import "fmt"

// RegistrationError reports a program that could not be registered. No handle is produced.
type RegistrationError struct {
	Program string
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register program %q: %v", e.Program, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// ReloadError reports a failed recompile. The program keeps running its previous version.
type ReloadError struct {
	Handle  ProgramHandle
	Program string
	Err     error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload program %q (handle %d): %v", e.Program, e.Handle, e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}
