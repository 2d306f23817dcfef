package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/callsite"
)

const (
	// RegistryFileName is the call-site registry document inside a data folder.
	RegistryFileName = "_registry.json"
	// RegistrySchema is the registry document version written by this package.
	RegistrySchema = 1
)

// RegistryEntry is the bookkeeping kept for one call site.
type RegistryEntry struct {
	LineNumber string `json:"lineNumber"`
	Tag        string `json:"tag"`
	FirstSeen  string `json:"firstSeen"`
	LastSeen   string `json:"lastSeen"`
	Count      int    `json:"count"`
}

// Registry maps source file to line number to entry.
type Registry struct {
	Schema int                                 `json:"schema"`
	Files  map[string]map[string]RegistryEntry `json:"files"`
}

// CallSite is a flattened registry entry used for listings.
type CallSite struct {
	File string
	RegistryEntry
}

func NewRegistry() *Registry {
	return &Registry{
		Schema: RegistrySchema,
		Files:  make(map[string]map[string]RegistryEntry),
	}
}

// DecodeRegistry parses a registry document. Empty input and "{}" yield a
// fresh document; malformed input is an error the caller may choose to heal.
func DecodeRegistry(data []byte) (*Registry, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "{}" {
		return NewRegistry(), nil
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if reg.Schema == 0 {
		reg.Schema = RegistrySchema
	}
	if reg.Files == nil {
		reg.Files = make(map[string]map[string]RegistryEntry)
	}
	for file, lines := range reg.Files {
		if lines == nil {
			reg.Files[file] = make(map[string]RegistryEntry)
		}
	}
	return &reg, nil
}

func (r *Registry) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	return data, nil
}

// Touch records one call at location. The tag is overwritten, so the last
// tag seen at a location wins.
func (r *Registry) Touch(location callsite.Location, tag string, now time.Time) RegistryEntry {
	file := strings.TrimSpace(location.File)
	if file == "" {
		file = callsite.Unknown.File
	}
	line := strings.TrimSpace(location.LineNumber)
	if line == "" {
		line = callsite.Unknown.LineNumber
	}
	if r.Files == nil {
		r.Files = make(map[string]map[string]RegistryEntry)
	}
	lines := r.Files[file]
	if lines == nil {
		lines = make(map[string]RegistryEntry)
		r.Files[file] = lines
	}

	stamp := now.UTC().Format(time.RFC3339)
	entry, ok := lines[line]
	if ok {
		entry.Tag = tag
		entry.LastSeen = stamp
		entry.Count++
	} else {
		entry = RegistryEntry{
			LineNumber: line,
			Tag:        tag,
			FirstSeen:  stamp,
			LastSeen:   stamp,
			Count:      1,
		}
	}
	lines[line] = entry
	return entry
}

// CallSites lists every entry ordered by file then numeric line.
func (r *Registry) CallSites() []CallSite {
	if r == nil {
		return nil
	}
	var out []CallSite
	for file, lines := range r.Files {
		for _, entry := range lines {
			out = append(out, CallSite{File: file, RegistryEntry: entry})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		li, errI := strconv.Atoi(out[i].LineNumber)
		lj, errJ := strconv.Atoi(out[j].LineNumber)
		if errI == nil && errJ == nil && li != lj {
			return li < lj
		}
		return out[i].LineNumber < out[j].LineNumber
	})
	return out
}
