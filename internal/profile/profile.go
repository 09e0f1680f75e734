// Package profile derives and publishes the set of terminal launch
// profiles from the enabled subset of images
package profile

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/sirfifer/vscode-wsl-manager/internal/image"
	"github.com/sirfifer/vscode-wsl-manager/internal/jsonstore"
)

// Profile is one terminal launch descriptor derived from an enabled image.
type Profile struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Argv    []string `json:"argv"`
	Enabled bool     `json:"enabled"`
	Scope   image.Scope `json:"scope"`
}

// Publisher writes the computed profile set to the host. It is a thin
// interface so the editor-integration layer (outside this core, per spec
// §1) can be swapped in tests without this package depending on it.
type Publisher interface {
	Publish(profiles []Profile) error
}

// Project computes the deterministic profile set for images: one profile
// per enabled image, sorted by name for stable diffs between successive
// publishes (P7: idempotent, symmetric-difference-only changes).
func Project(images []image.Image) []Profile {
	enabled := make([]image.Image, 0, len(images))
	for _, img := range images {
		if img.Enabled {
			enabled = append(enabled, img)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })

	out := make([]Profile, 0, len(enabled))
	for _, img := range enabled {
		out = append(out, Profile{
			ID:      img.Name,
			Label:   displayLabel(img),
			Argv:    []string{"wsl", "-d", img.Name},
			Enabled: true,
			Scope:   img.Scope,
		})
	}
	return out
}

func displayLabel(img image.Image) string {
	if img.DisplayName != "" {
		return img.DisplayName
	}
	return img.Name
}

// Projector computes and publishes profiles, tracking the last published
// set so it republishes only when that set changes (P7); each publish hands
// the publisher the full current set.
type Projector struct {
	log       *slog.Logger
	publisher Publisher
	lastByID  map[string]Profile
}

// New returns a Projector that publishes through pub.
func New(l *slog.Logger, pub Publisher) *Projector {
	return &Projector{log: l, publisher: pub, lastByID: map[string]Profile{}}
}

// Publish computes the profile set for images and publishes it. Calling
// Publish twice with an equivalent image set publishes once: the second
// call finds the set unchanged and does not call the publisher.
func (p *Projector) Publish(images []image.Image) error {
	profiles := Project(images)

	current := make(map[string]Profile, len(profiles))
	for _, pr := range profiles {
		current[pr.ID] = pr
	}

	if equalSets(p.lastByID, current) {
		if p.log != nil {
			p.log.Debug("profile set unchanged, skipping publish")
		}
		return nil
	}

	if err := p.publisher.Publish(profiles); err != nil {
		return fmt.Errorf("could not publish terminal profiles: %w", err)
	}
	p.lastByID = current
	return nil
}

// FilePublisher publishes profiles as a JSON document at path, the surface
// the editor-integration layer (outside this core) reads to register
// terminal profiles. It writes atomically via jsonstore.
type FilePublisher struct {
	log  *slog.Logger
	path string
}

// NewFilePublisher returns a Publisher that writes to path.
func NewFilePublisher(l *slog.Logger, path string) *FilePublisher {
	return &FilePublisher{log: l, path: path}
}

type document struct {
	Version  int       `json:"version"`
	Profiles []Profile `json:"profiles"`
}

// Publish writes profiles to the publisher's path, one document per call.
func (p *FilePublisher) Publish(profiles []Profile) error {
	if profiles == nil {
		profiles = []Profile{}
	}
	return jsonstore.WriteJSON(p.log, p.path, document{Version: 1, Profiles: profiles})
}

func equalSets(a, b map[string]Profile) bool {
	if len(a) != len(b) {
		return false
	}
	for id, pa := range a {
		pb, ok := b[id]
		if !ok || pa.Label != pb.Label || pa.Enabled != pb.Enabled || pa.Scope != pb.Scope {
			return false
		}
	}
	return true
}
