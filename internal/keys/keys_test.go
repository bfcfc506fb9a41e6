package keys

import (
	"errors"
	"strings"
	"testing"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		path, name string
		isFolder   bool
		want       string
	}{
		{"", "report.pdf", false, "alice@example.com/report.pdf"},
		{"docs", "report.pdf", false, "alice@example.com/docs/report.pdf"},
		{"/docs/", "report.pdf", false, "alice@example.com/docs/report.pdf"},
		{"docs/2020", "a.jpg", false, "alice@example.com/docs/2020/a.jpg"},
		{"", "photos", true, "alice@example.com/photos/"},
		{"photos", "2020", true, "alice@example.com/photos/2020/"},
	}
	for _, tt := range tests {
		got := Encode("alice@example.com", tt.path, tt.name, tt.isFolder)
		if got != tt.want {
			t.Errorf("Encode(%q, %q, %v) = %q, want %q", tt.path, tt.name, tt.isFolder, got, tt.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	paths := []string{"", "docs", "docs/2020", "a/b/c"}
	names := []string{"report.pdf", "x", "weird name.txt"}
	for _, path := range paths {
		for _, name := range names {
			for _, isFolder := range []bool{false, true} {
				key := Encode("bob", path, name, isFolder)
				dec, err := Decode("bob", key)
				if err != nil {
					t.Fatalf("Decode(%q): %v", key, err)
				}
				if dec.Path != path || dec.Name != name || dec.IsFolder != isFolder {
					t.Errorf("round trip %q: got (%q, %q, %v), want (%q, %q, %v)",
						key, dec.Path, dec.Name, dec.IsFolder, path, name, isFolder)
				}
			}
		}
	}
}

func TestDecodeRejectsForeignPrefix(t *testing.T) {
	_, err := Decode("alice", "bob/docs/report.pdf")
	if !errors.Is(err, files.ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
}

func TestDecodeRejectsBarePlaceholder(t *testing.T) {
	// The user's own root placeholder carries no name and must be skipped.
	_, err := Decode("alice", "alice/")
	if !errors.Is(err, files.ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
}

func TestListingPrefix(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "alice/"},
		{"/", "alice/"},
		{"photos", "alice/photos/"},
		{"/photos/", "alice/photos/"},
		{"photos/2020", "alice/photos/2020/"},
	}
	for _, tt := range tests {
		if got := ListingPrefix("alice", tt.path); got != tt.want {
			t.Errorf("ListingPrefix(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolveBucket(t *testing.T) {
	tests := []struct {
		prefix, tenant string
		want           string
	}{
		{"afterlogic-", "Default", "afterlogic-default"},
		{"", "My Company", "my-company"},
		{"fs-", "corp.example", "fs-corp-example"},
		{"FS-", "ACME Inc.", "fs-acme-inc-"},
	}
	for _, tt := range tests {
		got := ResolveBucket(tt.prefix, tt.tenant)
		if got != tt.want {
			t.Errorf("ResolveBucket(%q, %q) = %q, want %q", tt.prefix, tt.tenant, got, tt.want)
		}
		if got != ResolveBucket(tt.prefix, tt.tenant) {
			t.Errorf("ResolveBucket(%q, %q) not deterministic", tt.prefix, tt.tenant)
		}
		if strings.ContainsAny(got, " .") || got != strings.ToLower(got) {
			t.Errorf("ResolveBucket(%q, %q) = %q contains unsafe characters", tt.prefix, tt.tenant, got)
		}
	}
}
