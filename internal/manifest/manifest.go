// Package manifest constructs, serializes, reads and verifies the in-image
// provenance JSON document. The document lives at a fixed path inside each
// image and records its ancestry as an append-only layer chain.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ubuntu/decorate"

	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

// ErrNotFound is returned by ReadFrom when the image carries no manifest.
var ErrNotFound = errors.New("manifest not found in image")

// LayerKind enumerates the provenance events a layer can record.
type LayerKind string

const (
	LayerDistro          LayerKind = "DISTRO"
	LayerClone           LayerKind = "CLONE"
	LayerEnvironment     LayerKind = "ENVIRONMENT"
	LayerBootstrapScript LayerKind = "BOOTSTRAP_SCRIPT"
	LayerSettings        LayerKind = "SETTINGS"
	LayerCustom          LayerKind = "CUSTOM"
)

// SourceKind enumerates where an image's content originated.
type SourceKind string

const (
	SourceDistro      SourceKind = "distro"
	SourceImage       SourceKind = "image"
	SourceImportedTar SourceKind = "imported-tar"
	SourceLegacy      SourceKind = "legacy"
)

// Source describes the immediate origin of an image.
type Source struct {
	Kind   SourceKind `json:"kind"`
	Ref    string     `json:"ref"`
	Digest string     `json:"digest,omitempty"`
	// Detail records auxiliary provenance, such as the inner archive entry
	// name an appxbundle's rootfs tar was extracted from.
	Detail string `json:"detail,omitempty"`
}

// LineageEntry is one ancestor in a manifest's lineage chain.
type LineageEntry struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Layer is one append-only provenance event.
type Layer struct {
	Kind   LayerKind `json:"kind"`
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Manifest is the provenance document embedded at constants.ManifestPath.
type Manifest struct {
	ManifestVersion int            `json:"manifest_version"`
	ImageID         string         `json:"image_id"`
	ImageName       string         `json:"image_name"`
	CreatedAt       time.Time      `json:"created_at"`
	CreatedBy       string         `json:"created_by"`
	Source          Source         `json:"source"`
	ParentID        string         `json:"parent_id,omitempty"`
	Lineage         []LineageEntry `json:"lineage"`
	Layers          []Layer        `json:"layers"`

	// extra preserves unknown top-level fields across a read-modify-write
	// round trip.
	extra map[string]json.RawMessage `json:"-"`
}

// IDFunc generates a fresh image_id. Callers inject it (and the current
// time) rather than this package calling time.Now/a UUID library directly,
// so tests can pin both.
type IDFunc func() string

// BuildForNewImage emits a version-1 manifest for an image created directly
// from a distro: empty lineage, a single DISTRO layer.
func BuildForNewImage(now time.Time, newID IDFunc, imageName string, source Source) Manifest {
	id := newID()
	return Manifest{
		ManifestVersion: constants.ManifestVersion,
		ImageID:         id,
		ImageName:       imageName,
		CreatedAt:       now,
		CreatedBy:       constants.CmdName,
		Source:          source,
		Lineage:         []LineageEntry{},
		Layers: []Layer{{
			Kind:   LayerDistro,
			ID:     id,
			At:     now,
			Detail: source.Ref,
		}},
	}
}

// BuildForClone emits a manifest for an image cloned from parent: copies
// the parent's lineage, appends the parent itself, and adds a CLONE layer.
func BuildForClone(now time.Time, newID IDFunc, imageName string, parent Manifest) Manifest {
	id := newID()
	lineage := make([]LineageEntry, len(parent.Lineage), len(parent.Lineage)+1)
	copy(lineage, parent.Lineage)
	lineage = append(lineage, LineageEntry{
		ID:   parent.ImageID,
		Name: parent.ImageName,
		Kind: string(SourceImage),
		At:   now,
	})

	layers := make([]Layer, len(parent.Layers), len(parent.Layers)+1)
	copy(layers, parent.Layers)
	layers = append(layers, Layer{
		Kind:   LayerClone,
		ID:     id,
		At:     now,
		Detail: parent.ImageName,
	})

	return Manifest{
		ManifestVersion: constants.ManifestVersion,
		ImageID:         id,
		ImageName:       imageName,
		CreatedAt:       now,
		CreatedBy:       constants.CmdName,
		Source:          Source{Kind: SourceImage, Ref: parent.ImageName},
		ParentID:        parent.ImageID,
		Lineage:         lineage,
		Layers:          layers,
	}
}

// AppendLayer returns a copy of m with layer appended.
func AppendLayer(m Manifest, layer Layer) Manifest {
	m.Layers = append(append([]Layer{}, m.Layers...), layer)
	return m
}

// Engine writes and reads manifests inside running images via the
// subprocess invoker, since the image's filesystem is not directly
// addressable from the host.
type Engine struct {
	exec *wslexec.Invoker
}

// New returns an Engine that reads and writes manifests through exec.
func New(exec *wslexec.Invoker) *Engine {
	return &Engine{exec: exec}
}

// WriteInto serializes m as LF-terminated UTF-8 JSON with its top-level keys
// sorted (nested objects keep their Go field order) and writes it to
// constants.ManifestPath inside imageName by piping the bytes on
// stdin to a root shell: no UNC path into the image's filesystem is
// assumed.
func (e *Engine) WriteInto(ctx context.Context, imageName string, m Manifest) (err error) {
	defer decorate.OnError(&err, "could not write manifest into %q", imageName)

	data, err := marshalSorted(m)
	if err != nil {
		return err
	}

	argv := []string{"sh", "-c", "cat > " + constants.ManifestPath}
	_, err = e.exec.ExecWSLInStdin(ctx, imageName, argv, data)
	return err
}

// ReadFrom probes for the manifest's presence with a sentinel-returning
// shell one-liner, then reads and parses it if present. Returns ErrNotFound
// if the image carries none.
func (e *Engine) ReadFrom(ctx context.Context, imageName string) (Manifest, error) {
	probe := []string{"sh", "-c", "test -f " + constants.ManifestPath + " && echo EXISTS || echo NOT_FOUND"}
	res, err := e.exec.ExecWSLIn(ctx, imageName, probe)
	if err != nil {
		return Manifest{}, err
	}
	if strings.TrimSpace(res.Stdout) != "EXISTS" {
		return Manifest{}, ErrNotFound
	}

	cat := []string{"cat", constants.ManifestPath}
	res, err = e.exec.ExecWSLIn(ctx, imageName, cat)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := json.Unmarshal([]byte(res.Stdout), &m); err != nil {
		return Manifest{}, err
	}
	m.extra, err = unknownFields([]byte(res.Stdout))
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// AppendLayerInto reads the current manifest, appends layer and writes it back.
func (e *Engine) AppendLayerInto(ctx context.Context, imageName string, layer Layer) error {
	m, err := e.ReadFrom(ctx, imageName)
	if err != nil {
		return err
	}
	return e.WriteInto(ctx, imageName, AppendLayer(m, layer))
}

// marshalSorted renders m as JSON with its top-level keys sorted, merging
// back any unknown top-level fields preserved from a prior read. Nested
// objects (source, lineage and layer entries) are not re-sorted; they keep
// their Go field order.
func marshalSorted(m Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	for k, v := range m.extra {
		if _, known := generic[k]; !known {
			generic[k] = v
		}
	}

	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(generic[k])
	}
	buf.WriteByte('}')
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func unknownFields(data []byte) (map[string]json.RawMessage, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	known := map[string]struct{}{
		"manifest_version": {}, "image_id": {}, "image_name": {}, "created_at": {},
		"created_by": {}, "source": {}, "parent_id": {}, "lineage": {}, "layers": {},
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range generic {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}
	return extra, nil
}
