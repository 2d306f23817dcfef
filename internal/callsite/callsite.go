// Package callsite resolves the application source location that initiated an
// outbound call by walking the goroutine stack.
package callsite

import (
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

const maxFrames = 64

// Location identifies the application line that issued a call. LineNumber is
// kept as a string because registry documents key entries by it.
type Location struct {
	File       string `json:"file"`
	LineNumber string `json:"lineNumber"`
}

// Unknown is returned when no application frame can be found.
var Unknown = Location{File: "unknown", LineNumber: "0"}

// IsUnknown reports whether l is the unknown sentinel or empty.
func (l Location) IsUnknown() bool {
	return l.File == "" || l == Unknown
}

// DefaultInternal lists the function-name prefixes that belong to the
// collector itself.
var DefaultInternal = []string{
	"github.com/ongoingai/collector.",
	"github.com/ongoingai/collector/",
}

// Resolver finds the first application frame on the stack.
type Resolver struct {
	// Internal holds function-name prefixes treated as collector frames.
	// Frames declared in _test.go files are always application frames.
	Internal []string

	goroot     string
	mainModule string
}

func NewResolver() *Resolver {
	return &Resolver{Internal: DefaultInternal, goroot: cleanGOROOT(), mainModule: mainModulePath()}
}

// Resolve returns the first frame above the caller that is not runtime,
// standard library, third-party or collector code. skip counts additional
// frames to discard above Resolve's caller.
func (r *Resolver) Resolve(skip int) (loc Location) {
	defer func() {
		if recover() != nil {
			loc = Unknown
		}
	}()
	if r == nil {
		r = NewResolver()
	}
	if skip < 0 {
		skip = 0
	}

	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return Unknown
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && r.isApplication(frame) {
			return Location{File: frame.File, LineNumber: strconv.Itoa(frame.Line)}
		}
		if !more {
			return Unknown
		}
	}
}

func (r *Resolver) isApplication(frame runtime.Frame) bool {
	file := filepath.ToSlash(frame.File)
	testFile := strings.HasSuffix(file, "_test.go")

	if r.isStdlib(frame.Function, file) && !testFile {
		return false
	}
	if strings.Contains(file, "/pkg/mod/") || strings.Contains(file, "/vendor/") {
		return false
	}
	if testFile {
		return true
	}
	for _, prefix := range r.Internal {
		if prefix != "" && strings.HasPrefix(frame.Function, prefix) {
			return false
		}
	}
	return true
}

func (r *Resolver) isStdlib(function, file string) bool {
	goroot := r.goroot
	if goroot == "" {
		goroot = cleanGOROOT()
	}
	mainModule := r.mainModule
	if mainModule == "" {
		mainModule = mainModulePath()
	}
	return isStdlibFrame(goroot, mainModule, function, file)
}

// isStdlibFrame decides by file location when GOROOT is known. Binaries built
// with -trimpath report no GOROOT, so the package path is used instead: a
// first path element without a dot is standard library unless it belongs to
// the main module.
func isStdlibFrame(goroot, mainModule, function, file string) bool {
	if goroot != "" {
		return strings.HasPrefix(file, goroot+"/")
	}
	pkg := packagePath(function)
	if pkg == "" || pkg == "main" {
		return false
	}
	if mainModule != "" && (pkg == mainModule || strings.HasPrefix(pkg, mainModule+"/")) {
		return false
	}
	first := pkg
	if idx := strings.IndexByte(pkg, '/'); idx >= 0 {
		first = pkg[:idx]
	}
	return !strings.Contains(first, ".")
}

// packagePath extracts the import path from a fully qualified function name
// such as "github.com/acme/app/pkg.(*T).Method".
func packagePath(function string) string {
	lastSlash := strings.LastIndexByte(function, '/')
	rest := function[lastSlash+1:]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return function
	}
	return function[:lastSlash+1+dot]
}

func cleanGOROOT() string {
	root := runtime.GOROOT() //nolint:staticcheck // best effort; empty under -trimpath
	if root == "" {
		return ""
	}
	return strings.TrimRight(filepath.ToSlash(root), "/")
}

func mainModulePath() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return info.Main.Path
}
