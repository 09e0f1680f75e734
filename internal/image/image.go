// Package image is the CRUD layer over WSL images: it imports, clones,
// exports and deletes WSL registrations via the subprocess invoker while
// keeping a durable metadata index in sync with the live registration set.
package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ubuntu/decorate"

	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/jsonstore"
	"github.com/sirfifer/vscode-wsl-manager/internal/manifest"
	"github.com/sirfifer/vscode-wsl-manager/internal/validate"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

// ErrNotFound is returned when a named image has no index entry.
var ErrNotFound = errors.New("image not found")

// ErrExists is returned when the requested name is already registered.
var ErrExists = errors.New("image already exists")

// ManifestPresence is the tri-state this package requires for Image.ManifestPresent.
type ManifestPresence string

const (
	ManifestPresent ManifestPresence = "present"
	ManifestAbsent  ManifestPresence = "absent"
	ManifestUnknown ManifestPresence = "unknown"
)

// Scope is either global or scoped to a single workspace path.
type Scope struct {
	Workspace     bool   `json:"workspace"`
	WorkspacePath string `json:"workspace_path,omitempty"`
}

// Image is a registered WSL instance tracked by the manager.
type Image struct {
	Name            string           `json:"name"`
	DisplayName     string           `json:"display_name"`
	Description     string           `json:"description,omitempty"`
	Source          manifest.Source  `json:"source"`
	CreatedAt       time.Time        `json:"created_at"`
	WSLVersion      int              `json:"wsl_version"`
	InstallPath     string           `json:"install_path"`
	Enabled         bool             `json:"enabled"`
	Scope           Scope            `json:"scope"`
	Tags            []string         `json:"tags,omitempty"`
	ManifestPresent ManifestPresence `json:"manifest_present"`
}

// Info augments an Image with best-effort, never-fatal introspection data.
type Info struct {
	Image
	OS     string `json:"os"`
	Kernel string `json:"kernel"`
	Memory string `json:"memory"`
}

type indexFile struct {
	Version int     `json:"version"`
	Images  []Image `json:"images"`
}

// CreateOptions configures CreateFromDistro and ImportTar.
type CreateOptions struct {
	DisplayName   string
	Description   string
	EnableTerminal bool
	Scope         Scope
	WSLVersion    int
}

// CloneOptions configures CloneImage.
type CloneOptions struct {
	DisplayName    string
	Description    string
	EnableTerminal bool
	Scope          Scope
}

// Manager owns the image metadata index and drives WSL registrations
// through exec. One Manager instance should be shared per store.
type Manager struct {
	log        *slog.Logger
	storeRoot  string // {store}/images
	indexPath  string // {store}/images.json
	exec       *wslexec.Invoker
	manifestEng *manifest.Engine
	cat        *catalog.Catalog
	now        func() time.Time
	newID      manifest.IDFunc

	mu    sync.Mutex // guards readIndex/writeIndex sequences
	locks sync.Map   // name -> *sync.Mutex, one per image
}

// New returns a Manager rooted at storeRoot ({store}/images), persisting its
// index at indexPath ({store}/images.json).
func New(l *slog.Logger, storeRoot, indexPath string, exec *wslexec.Invoker, cat *catalog.Catalog, now func() time.Time, newID manifest.IDFunc) *Manager {
	return &Manager{
		log:         l,
		storeRoot:   storeRoot,
		indexPath:   indexPath,
		exec:        exec,
		manifestEng: manifest.New(exec),
		cat:         cat,
		now:         now,
		newID:       newID,
	}
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manager) readIndex() (indexFile, error) {
	var idx indexFile
	if !jsonstore.Exists(m.indexPath) {
		return indexFile{Version: 1}, nil
	}
	if err := jsonstore.ReadJSON(m.indexPath, &idx); err != nil {
		return indexFile{}, err
	}
	return idx, nil
}

func (m *Manager) writeIndex(idx indexFile) error {
	return jsonstore.WriteJSON(m.log, m.indexPath, idx)
}

// CreateFromDistro imports name's canonical distro tar as a new image (spec
// §4.H). Preconditions: the distro is available and newImageName is free.
// Any failure after --import succeeds triggers a compensating --unregister.
func (m *Manager) CreateFromDistro(ctx context.Context, distroName, newImageName string, opts CreateOptions) (_ Image, err error) {
	defer decorate.OnError(&err, "could not create image %q from distro %q", newImageName, distroName)

	vName, err := validate.ValidateName(newImageName)
	if err != nil {
		return Image{}, err
	}
	if _, err := validate.ValidateName(distroName); err != nil {
		return Image{}, err
	}

	lock := m.lockFor(string(vName))
	lock.Lock()
	defer lock.Unlock()

	d, err := m.cat.Get(distroName)
	if err != nil {
		return Image{}, wslerr.Wrap(wslerr.KindDistroUnknown, err, "distro not in catalog")
	}
	if !d.Available {
		return Image{}, wslerr.New(wslerr.KindDistroUnavailable, fmt.Sprintf("distro %q has not been downloaded", distroName))
	}

	if err := m.ensureFree(string(vName)); err != nil {
		return Image{}, err
	}

	installPath := filepath.Join(m.storeRoot, string(vName))
	wslVersion := opts.WSLVersion
	if wslVersion == 0 {
		wslVersion = 2
	}

	importArgv := []string{"--import", string(vName), installPath, d.LocalPath, "--version", fmt.Sprintf("%d", wslVersion)}
	if _, err := m.exec.ExecWSLLong(ctx, importArgv); err != nil {
		return Image{}, err
	}

	rollback := func() {
		_, _ = m.exec.ExecWSL(ctx, []string{"--unregister", string(vName)})
		_ = os.RemoveAll(installPath)
	}

	src := manifest.Source{Kind: manifest.SourceDistro, Ref: distroName, Digest: d.ExpectedDigest, Detail: d.ArchiveEntry}
	man := manifest.BuildForNewImage(m.now(), m.newID, string(vName), src)
	if err := m.manifestEng.WriteInto(ctx, string(vName), man); err != nil {
		rollback()
		return Image{}, err
	}

	img := Image{
		Name:            string(vName),
		DisplayName:     firstNonEmpty(opts.DisplayName, string(vName)),
		Description:     opts.Description,
		Source:          src,
		CreatedAt:       m.now(),
		WSLVersion:      wslVersion,
		InstallPath:     installPath,
		Enabled:         opts.EnableTerminal,
		Scope:           opts.Scope,
		ManifestPresent: ManifestPresent,
	}

	if err := m.addToIndex(img); err != nil {
		rollback()
		return Image{}, err
	}

	return img, nil
}

// CloneImage exports src to a temporary tar and re-imports it under a new
// name, extending the parent's manifest lineage .
func (m *Manager) CloneImage(ctx context.Context, srcImageName, newImageName string, opts CloneOptions) (_ Image, err error) {
	defer decorate.OnError(&err, "could not clone image %q to %q", srcImageName, newImageName)

	vSrc, err := validate.ValidateName(srcImageName)
	if err != nil {
		return Image{}, err
	}
	vNew, err := validate.ValidateName(newImageName)
	if err != nil {
		return Image{}, err
	}

	srcLock := m.lockFor(string(vSrc))
	srcLock.Lock()
	defer srcLock.Unlock()
	newLock := m.lockFor(string(vNew))
	newLock.Lock()
	defer newLock.Unlock()

	srcImg, err := m.getFromIndex(string(vSrc))
	if err != nil {
		return Image{}, err
	}
	if err := m.ensureFree(string(vNew)); err != nil {
		return Image{}, err
	}

	tmpTar := filepath.Join(os.TempDir(), string(vSrc)+"-"+string(vNew)+".tar")
	defer os.Remove(tmpTar)

	if _, err := m.exec.ExecWSLLong(ctx, []string{"--export", string(vSrc), tmpTar}); err != nil {
		return Image{}, err
	}

	installPath := filepath.Join(m.storeRoot, string(vNew))
	if _, err := m.exec.ExecWSLLong(ctx, []string{"--import", string(vNew), installPath, tmpTar, "--version", fmt.Sprintf("%d", srcImg.WSLVersion)}); err != nil {
		return Image{}, err
	}

	rollback := func() {
		_, _ = m.exec.ExecWSL(ctx, []string{"--unregister", string(vNew)})
		_ = os.RemoveAll(installPath)
	}

	parentManifest, err := m.manifestEng.ReadFrom(ctx, string(vSrc))
	if err != nil {
		rollback()
		return Image{}, err
	}
	childManifest := manifest.BuildForClone(m.now(), m.newID, string(vNew), parentManifest)
	if err := m.manifestEng.WriteInto(ctx, string(vNew), childManifest); err != nil {
		rollback()
		return Image{}, err
	}

	img := Image{
		Name:            string(vNew),
		DisplayName:     firstNonEmpty(opts.DisplayName, string(vNew)),
		Description:     opts.Description,
		Source:          manifest.Source{Kind: manifest.SourceImage, Ref: string(vSrc)},
		CreatedAt:       m.now(),
		WSLVersion:      srcImg.WSLVersion,
		InstallPath:     installPath,
		Enabled:         opts.EnableTerminal,
		Scope:           opts.Scope,
		ManifestPresent: ManifestPresent,
	}

	if err := m.addToIndex(img); err != nil {
		rollback()
		return Image{}, err
	}

	return img, nil
}

// ImportTar imports an arbitrary tar as a new image; the resulting
// manifest's source kind is imported-tar with the tar's digest.
func (m *Manager) ImportTar(ctx context.Context, tarPath, newImageName string, digest string, opts CreateOptions) (_ Image, err error) {
	defer decorate.OnError(&err, "could not import %q as image %q", tarPath, newImageName)

	vName, err := validate.ValidateName(newImageName)
	if err != nil {
		return Image{}, err
	}
	vPath, err := validate.ValidateTarPath(tarPath, validate.PathOptions{MustExist: true})
	if err != nil {
		return Image{}, err
	}

	lock := m.lockFor(string(vName))
	lock.Lock()
	defer lock.Unlock()

	if err := m.ensureFree(string(vName)); err != nil {
		return Image{}, err
	}

	installPath := filepath.Join(m.storeRoot, string(vName))
	wslVersion := opts.WSLVersion
	if wslVersion == 0 {
		wslVersion = 2
	}

	if _, err := m.exec.ExecWSLLong(ctx, []string{"--import", string(vName), installPath, string(vPath), "--version", fmt.Sprintf("%d", wslVersion)}); err != nil {
		return Image{}, err
	}

	rollback := func() {
		_, _ = m.exec.ExecWSL(ctx, []string{"--unregister", string(vName)})
		_ = os.RemoveAll(installPath)
	}

	src := manifest.Source{Kind: manifest.SourceImportedTar, Ref: string(vPath), Digest: digest}
	man := manifest.BuildForNewImage(m.now(), m.newID, string(vName), src)
	if err := m.manifestEng.WriteInto(ctx, string(vName), man); err != nil {
		rollback()
		return Image{}, err
	}

	img := Image{
		Name:            string(vName),
		DisplayName:     firstNonEmpty(opts.DisplayName, string(vName)),
		Description:     opts.Description,
		Source:          src,
		CreatedAt:       m.now(),
		WSLVersion:      wslVersion,
		InstallPath:     installPath,
		Enabled:         opts.EnableTerminal,
		Scope:           opts.Scope,
		ManifestPresent: ManifestPresent,
	}

	if err := m.addToIndex(img); err != nil {
		rollback()
		return Image{}, err
	}
	return img, nil
}

// ExportImage writes name's filesystem to outPath; it does not mutate the index.
func (m *Manager) ExportImage(ctx context.Context, name, outPath string) (err error) {
	defer decorate.OnError(&err, "could not export image %q", name)

	vName, err := validate.ValidateName(name)
	if err != nil {
		return err
	}
	vOut, err := validate.ValidateTarPath(outPath, validate.PathOptions{})
	if err != nil {
		return err
	}

	lock := m.lockFor(string(vName))
	lock.Lock()
	defer lock.Unlock()

	_, err = m.exec.ExecWSLLong(ctx, []string{"--export", string(vName), string(vOut)})
	return err
}

// DeleteImage unregisters name, removes its install directory, and drops it
// from the index, restoring invariant (I1).
func (m *Manager) DeleteImage(ctx context.Context, name string) (err error) {
	defer decorate.OnError(&err, "could not delete image %q", name)

	vName, err := validate.ValidateName(name)
	if err != nil {
		return err
	}

	lock := m.lockFor(string(vName))
	lock.Lock()
	defer lock.Unlock()

	img, err := m.getFromIndex(string(vName))
	if err != nil {
		return err
	}

	if _, err := m.exec.ExecWSL(ctx, []string{"--unregister", string(vName)}); err != nil {
		if wslerr.KindOf(err) != wslerr.KindImageNotFound {
			return err
		}
	}
	if img.InstallPath != "" {
		_ = os.RemoveAll(img.InstallPath)
	}

	return m.removeFromIndex(string(vName))
}

// UpdateProperties mutates only index-resident fields; it never touches the
// image filesystem.
func (m *Manager) UpdateProperties(name string, displayName, description *string, enabled *bool, tags []string) (_ Image, err error) {
	defer decorate.OnError(&err, "could not update image %q", name)

	vName, err := validate.ValidateName(name)
	if err != nil {
		return Image{}, err
	}

	lock := m.lockFor(string(vName))
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return Image{}, err
	}

	for i := range idx.Images {
		if idx.Images[i].Name != string(vName) {
			continue
		}
		if displayName != nil {
			idx.Images[i].DisplayName = *displayName
		}
		if description != nil {
			idx.Images[i].Description = *description
		}
		if enabled != nil {
			idx.Images[i].Enabled = *enabled
		}
		if tags != nil {
			idx.Images[i].Tags = tags
		}
		if err := m.writeIndex(idx); err != nil {
			return Image{}, err
		}
		return idx.Images[i], nil
	}
	return Image{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// List reconciles the persisted index against the live WSL registration set
// : entries whose registration is gone are dropped; WSL
// registrations with no index entry are added as legacy images. The index
// is rewritten only if reconciliation changed it.
func (m *Manager) List(ctx context.Context) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}

	res, err := m.exec.ExecWSL(ctx, []string{"--list", "--verbose"})
	if err != nil {
		return nil, err
	}
	live := parseListVerbose(res.Stdout)

	liveNames := make(map[string]struct{}, len(live))
	for _, l := range live {
		liveNames[l.name] = struct{}{}
	}

	changed := false
	kept := make([]Image, 0, len(idx.Images))
	indexed := make(map[string]struct{}, len(idx.Images))
	for _, img := range idx.Images {
		if _, ok := liveNames[img.Name]; !ok {
			changed = true
			continue
		}
		kept = append(kept, img)
		indexed[img.Name] = struct{}{}
	}

	for _, l := range live {
		if _, ok := indexed[l.name]; ok {
			continue
		}
		changed = true
		kept = append(kept, Image{
			Name:            l.name,
			DisplayName:     l.name,
			Source:          manifest.Source{Kind: manifest.SourceLegacy},
			WSLVersion:      l.version,
			Enabled:         true,
			ManifestPresent: ManifestUnknown,
		})
	}

	if changed {
		idx.Images = kept
		idx.Version = 1
		if err := m.writeIndex(idx); err != nil {
			return nil, err
		}
	}

	return kept, nil
}

// GetInfo augments name's index entry with best-effort OS/kernel/memory
// fields; any probe failure yields "unknown" rather than failing the call.
func (m *Manager) GetInfo(ctx context.Context, name string) (Info, error) {
	img, err := m.getFromIndex(name)
	if err != nil {
		return Info{}, err
	}

	info := Info{Image: img, OS: "unknown", Kernel: "unknown", Memory: "unknown"}

	if res, err := m.exec.ExecWSLIn(ctx, name, []string{"uname", "-r"}); err == nil {
		info.Kernel = strings.TrimSpace(res.Stdout)
	}
	if res, err := m.exec.ExecWSLIn(ctx, name, []string{"sh", "-c", ". /etc/os-release && echo $PRETTY_NAME"}); err == nil {
		if v := strings.TrimSpace(res.Stdout); v != "" {
			info.OS = v
		}
	}
	if res, err := m.exec.ExecWSLIn(ctx, name, []string{"free", "-h"}); err == nil {
		info.Memory = strings.TrimSpace(res.Stdout)
	}

	return info, nil
}

func (m *Manager) ensureFree(name string) error {
	if _, err := m.getFromIndex(name); err == nil {
		return wslerr.New(wslerr.KindImageExists, fmt.Sprintf("image %q already exists", name))
	}
	return nil
}

func (m *Manager) getFromIndex(name string) (Image, error) {
	idx, err := m.readIndex()
	if err != nil {
		return Image{}, err
	}
	for _, img := range idx.Images {
		if img.Name == name {
			return img, nil
		}
	}
	return Image{}, wslerr.Wrap(wslerr.KindImageNotFound, fmt.Errorf("%s: %w", name, ErrNotFound), "image not found")
}

func (m *Manager) addToIndex(img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	idx.Version = 1
	idx.Images = append(idx.Images, img)
	return m.writeIndex(idx)
}

func (m *Manager) removeFromIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	out := make([]Image, 0, len(idx.Images))
	for _, img := range idx.Images {
		if img.Name != name {
			out = append(out, img)
		}
	}
	idx.Images = out
	return m.writeIndex(idx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type liveRegistration struct {
	name    string
	version int
}

var listVerboseLineRegex = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\d+)$`)

// parseListVerbose parses `wsl --list --verbose` table output:
//
//	  NAME      STATE           VERSION
//	* Ubuntu    Running         2
//
// The leading "*" marks the default distro and is stripped; the default
// itself is not modeled by this component.
func parseListVerbose(text string) []liveRegistration {
	var out []liveRegistration
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(line), "NAME") && strings.Contains(strings.ToUpper(line), "STATE") {
			continue // header row
		}
		m := listVerboseLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		version := 2
		fmt.Sscanf(m[3], "%d", &version)
		out = append(out, liveRegistration{name: m[1], version: version})
	}
	return out
}
