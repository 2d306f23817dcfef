package collector

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// InitOrderError reports client libraries that were constructed before the
// collector was initialized. Calls made through those clients bypass capture.
type InitOrderError struct {
	Libraries []string
}

func (e *InitOrderError) Error() string {
	return fmt.Sprintf(
		"collector must be initialized before HTTP client libraries are constructed; loaded too early: %s",
		strings.Join(e.Libraries, ", "),
	)
}

var earlyLibraries struct {
	mu    sync.Mutex
	names []string
}

// NoteClientLibrary records that library built an HTTP client. When the
// default collector is not yet initialized, the next Initialize fails with
// an *InitOrderError naming it.
func NoteClientLibrary(library string) {
	library = strings.TrimSpace(library)
	if library == "" || Default() != nil {
		return
	}
	earlyLibraries.mu.Lock()
	defer earlyLibraries.mu.Unlock()
	if !slices.Contains(earlyLibraries.names, library) {
		earlyLibraries.names = append(earlyLibraries.names, library)
	}
}

func takeInitOrderError() error {
	earlyLibraries.mu.Lock()
	defer earlyLibraries.mu.Unlock()
	if len(earlyLibraries.names) == 0 {
		return nil
	}
	names := append([]string(nil), earlyLibraries.names...)
	slices.Sort(names)
	return &InitOrderError{Libraries: names}
}
