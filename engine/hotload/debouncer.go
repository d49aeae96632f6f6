package hotload

import (
	"context"
	"slices"
)

// Notifier receives the de-duplicated paths drained by a Debouncer once per frame, including
// frames where nothing changed. Cache implements it.
type Notifier interface {
	NotifyChanged(paths []string) []*ReloadError
}

// debouncer is the implementation of the Debouncer interface.
type debouncer struct {
	queue chan string
}

// Debouncer collapses bursts of file change notifications into one set per frame. Producers may
// call Notify from any goroutine; Drain and Tick belong to the main thread.
type Debouncer interface {
	// Notify queues a changed path, blocking the caller while the queue is full.
	//
	// Parameters:
	//   - path: the changed path
	Notify(path string)

	// NotifyContext queues a changed path like Notify, giving up when ctx is done.
	//
	// Parameters:
	//   - ctx: the producer's context
	//   - path: the changed path
	//
	// Returns:
	//   - error: ctx.Err() if the path was not queued
	NotifyContext(ctx context.Context, path string) error

	// Drain takes everything queued so far without blocking.
	//
	// Returns:
	//   - []string: the sorted unique paths, empty if nothing arrived
	Drain() []string

	// Tick drains the queue and hands the result to n in a single call. n is called even when
	// nothing changed so it can retire the programs replaced last frame.
	//
	// Parameters:
	//   - n: the notifier, usually the program cache
	//
	// Returns:
	//   - []*ReloadError: the reload failures reported by n
	Tick(n Notifier) []*ReloadError
}

var _ Debouncer = &debouncer{}

// NewDebouncer creates a Debouncer holding up to capacity pending notifications.
//
// Parameters:
//   - capacity: the queue size, at least 1
//
// Returns:
//   - Debouncer: the new debouncer
func NewDebouncer(capacity int) Debouncer {
	return &debouncer{queue: make(chan string, max(capacity, 1))}
}

func (d *debouncer) Notify(path string) {
	d.queue <- path
}

func (d *debouncer) NotifyContext(ctx context.Context, path string) error {
	select {
	case d.queue <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *debouncer) Drain() []string {
	set := make(map[string]struct{})
	for {
		select {
		case p := <-d.queue:
			set[p] = struct{}{}
			continue
		default:
		}
		break
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (d *debouncer) Tick(n Notifier) []*ReloadError {
	return n.NotifyChanged(d.Drain())
}
