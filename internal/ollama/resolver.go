// Package ollama finds GGUF blobs in a local Ollama model store, so a
// tokenizer can be loaded from a pulled model such as "phi4-mini".
package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultTag      = "latest"
	DefaultRegistry = "registry.ollama.ai"
	DefaultNS       = "library"
	MediaTypeModel  = "application/vnd.ollama.image.model"
)

var ErrNotFound = errors.New("model not found in ollama store")

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Store is an Ollama models directory with manifests/ and blobs/ below it.
type Store struct {
	Dir string
}

// DefaultStore honours OLLAMA_MODELS and otherwise uses ~/.ollama/models.
func DefaultStore() (Store, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return Store{Dir: env}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Store{}, err
	}
	return Store{Dir: filepath.Join(home, ".ollama", "models")}, nil
}

// Ref is a parsed model reference.
type Ref struct {
	Registry  string
	Namespace string
	Name      string
	Tag       string
}

// ParseRef accepts "name", "name:tag", "ns/name[:tag]" and
// "registry/ns/name[:tag]".
func ParseRef(s string) (Ref, error) {
	ref := Ref{Registry: DefaultRegistry, Namespace: DefaultNS, Tag: DefaultTag}

	path := s
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "/") {
		path, ref.Tag = s[:i], s[i+1:]
	}
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case 3:
		ref.Registry, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	default:
		return Ref{}, fmt.Errorf("invalid model reference %q", s)
	}
	for _, p := range []string{ref.Registry, ref.Namespace, ref.Name, ref.Tag} {
		if p == "" || p == "." || p == ".." {
			return Ref{}, fmt.Errorf("invalid model reference %q", s)
		}
	}
	return ref, nil
}

func (r Ref) String() string {
	return r.Registry + "/" + r.Namespace + "/" + r.Name + ":" + r.Tag
}

func (s Store) manifestPath(r Ref) string {
	return filepath.Join(s.Dir, "manifests", r.Registry, r.Namespace, r.Name, r.Tag)
}

// ModelBlob returns the path of the GGUF layer of the model.
func (s Store) ModelBlob(model string) (string, error) {
	ref, err := ParseRef(model)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.manifestPath(ref))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("invalid manifest for %s: %w", ref, err)
	}

	for _, l := range m.Layers {
		if l.MediaType != MediaTypeModel {
			continue
		}
		// Digest is "sha256:hash"; blobs are stored as sha256-hash.
		blob := filepath.Join(s.Dir, "blobs", strings.Replace(l.Digest, ":", "-", 1))
		if _, err := os.Stat(blob); err != nil {
			return "", fmt.Errorf("model blob for %s: %w", ref, err)
		}
		return blob, nil
	}
	return "", fmt.Errorf("no model layer in manifest for %s", ref)
}

// Resolve returns path unchanged when it names an existing file and
// otherwise looks it up as a model in the default store.
func Resolve(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	store, err := DefaultStore()
	if err != nil {
		return "", err
	}
	return store.ModelBlob(path)
}
