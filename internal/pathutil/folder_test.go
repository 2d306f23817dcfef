package pathutil

import (
	"path/filepath"
	"testing"
)

func TestIsRemote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		folder string
		want   bool
	}{
		{folder: "s3://bucket/prefix", want: true},
		{folder: "gs://bucket", want: true},
		{folder: "file:///tmp/data", want: true},
		{folder: "mem://", want: true},
		{folder: "/var/data", want: false},
		{folder: "data", want: false},
		{folder: "", want: false},
		{folder: "://broken", want: false},
	}
	for _, tt := range tests {
		if got := IsRemote(tt.folder); got != tt.want {
			t.Fatalf("IsRemote(%q)=%v, want %v", tt.folder, got, tt.want)
		}
	}
}

func TestResolveFolder(t *testing.T) {
	t.Parallel()

	base := filepath.Join(string(filepath.Separator), "srv", "app", "ongoingai")
	tests := []struct {
		name   string
		base   string
		folder string
		want   string
	}{
		{name: "relative joins base", base: base, folder: "data", want: filepath.Join(base, "data")},
		{name: "parent traversal cleaned", base: base, folder: "../data", want: filepath.Join(string(filepath.Separator), "srv", "app", "data")},
		{name: "absolute kept", base: base, folder: "/tmp/x/", want: "/tmp/x"},
		{name: "remote kept", base: base, folder: "s3://bucket/events", want: "s3://bucket/events"},
		{name: "empty stays empty", base: base, folder: "  ", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ResolveFolder(tt.base, tt.folder); got != tt.want {
				t.Fatalf("ResolveFolder(%q, %q)=%q, want %q", tt.base, tt.folder, got, tt.want)
			}
		})
	}
}
