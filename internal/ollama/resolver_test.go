package ollama

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeModel lays out a manifest and blob the way `ollama pull` does.
func writeModel(t *testing.T, dir, ref, manifest string, blobs ...string) {
	t.Helper()
	r, err := ParseRef(ref)
	if err != nil {
		t.Fatal(err)
	}
	mp := filepath.Join(dir, "manifests", r.Registry, r.Namespace, r.Name, r.Tag)
	if err := os.MkdirAll(filepath.Dir(mp), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mp, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, b := range blobs {
		if err := os.WriteFile(filepath.Join(dir, "blobs", b), []byte("GGUF"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

const phiManifest = `{
	"schemaVersion": 2,
	"layers": [
		{"mediaType": "application/vnd.ollama.image.template", "digest": "sha256:tmpl", "size": 10},
		{"mediaType": "application/vnd.ollama.image.model", "digest": "sha256:abc123", "size": 4}
	]
}`

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"phi4-mini", "registry.ollama.ai/library/phi4-mini:latest"},
		{"phi4-mini:3.8b", "registry.ollama.ai/library/phi4-mini:3.8b"},
		{"model:v1.0", "registry.ollama.ai/library/model:v1.0"},
		{"me/phi4-mini", "registry.ollama.ai/me/phi4-mini:latest"},
		{"hub.local:5000/me/phi4:q4", "hub.local:5000/me/phi4:q4"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseRef(tt.in)
			if err != nil {
				t.Fatalf("ParseRef(%q): %v", tt.in, err)
			}
			if r.String() != tt.want {
				t.Errorf("got %s, want %s", r, tt.want)
			}
		})
	}
}

func TestParseRefInvalid(t *testing.T) {
	for _, in := range []string{"", "a/b/c/d", "phi:", "../phi", "a//b"} {
		if _, err := ParseRef(in); err == nil {
			t.Errorf("ParseRef(%q): expected error", in)
		}
	}
}

func TestDefaultStore(t *testing.T) {
	t.Setenv("OLLAMA_MODELS", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	s, err := DefaultStore()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".ollama", "models"); s.Dir != want {
		t.Errorf("expected %s, got %s", want, s.Dir)
	}

	t.Setenv("OLLAMA_MODELS", "/custom/ollama/models")
	s, err = DefaultStore()
	if err != nil {
		t.Fatal(err)
	}
	if s.Dir != "/custom/ollama/models" {
		t.Errorf("expected env override, got %s", s.Dir)
	}
}

func TestModelBlob(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "phi4-mini", phiManifest, "sha256-abc123")

	blob, err := Store{Dir: dir}.ModelBlob("phi4-mini:latest")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "blobs", "sha256-abc123"); blob != want {
		t.Errorf("expected %s, got %s", want, blob)
	}
}

func TestModelBlobErrors(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "noblob", phiManifest)
	writeModel(t, dir, "nolayer", `{"schemaVersion": 2, "layers": []}`)
	writeModel(t, dir, "garbage", `{`)

	tests := []struct {
		model string
		msg   string
	}{
		{"absent", "not found"},
		{"phi4-mini:nonexistenttag", "not found"},
		{"noblob", "model blob"},
		{"nolayer", "no model layer"},
		{"garbage", "invalid manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, err := Store{Dir: dir}.ModelBlob(tt.model)
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected error containing %q, got %v", tt.msg, err)
			}
		})
	}

	_, err := Store{Dir: dir}.ModelBlob("absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "phi4-mini", phiManifest, "sha256-abc123")
	t.Setenv("OLLAMA_MODELS", dir)

	file := filepath.Join(dir, "tokenizer.gguf")
	if err := os.WriteFile(file, []byte("GGUF"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(file)
	if err != nil || got != file {
		t.Errorf("existing file: got %q, %v", got, err)
	}

	got, err = Resolve("phi4-mini")
	if err != nil || got != filepath.Join(dir, "blobs", "sha256-abc123") {
		t.Errorf("model name: got %q, %v", got, err)
	}

	if _, err := Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
