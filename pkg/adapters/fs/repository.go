// Package fs stores documents as files on disk, optionally versioned with git.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/git"
)

// Repository implements core.Repository, core.Conditional and core.Watchable
// on top of the filesystem.
type Repository struct {
	Path        string
	git         *git.Client
	cache       *cache
	config      Config
	serializers map[string]Serializer

	// writeMu serializes writers within the process; the root lock file
	// serializes them across processes sharing Path.
	writeMu sync.Mutex

	mu       sync.RWMutex
	last     time.Time
	readOnly bool
	watchers int
}

// Config holds the configuration for the filesystem repository.
type Config struct {
	Path      string
	AutoInit  bool
	Gitless   bool
	MustExist bool
	ReadOnly  bool
	// Strict decodes JSON numbers as json.Number.
	Strict    bool
	Logger    *slog.Logger
	SystemDir string // e.g. ".dealroom"
	// DefaultExt is appended to IDs that carry no known extension.
	DefaultExt   string
	ErrorHandler func(error)
	Now          func() time.Time
}

// NewRepository creates a new filesystem-backed repository.
func NewRepository(config Config) *Repository {
	if config.SystemDir == "" {
		config.SystemDir = ".dealroom"
	}
	if config.DefaultExt == "" {
		config.DefaultExt = ".json"
	}
	if !strings.HasPrefix(config.DefaultExt, ".") {
		config.DefaultExt = "." + config.DefaultExt
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Repository{
		Path:        config.Path,
		git:         git.NewClient(config.Path, config.SystemDir+".lock", config.Logger),
		cache:       newCache(config.Path, config.SystemDir),
		config:      config,
		serializers: DefaultSerializers(config.Strict),
		readOnly:    config.ReadOnly,
	}
}

// RegisterSerializer adds or replaces the serializer for ext. It must be
// called before the repository is used.
func (r *Repository) RegisterSerializer(ext string, s Serializer) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.serializers[ext] = s
}

// Initialize performs the necessary setup for the repository (mkdir, git init).
func (r *Repository) Initialize(ctx context.Context) error {
	if r.config.MustExist {
		info, err := os.Stat(r.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("store path does not exist: %s", r.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", r.Path)
		}
	} else if !r.readOnly {
		if err := os.MkdirAll(r.Path, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	if err := r.cache.Load(); err != nil {
		r.config.Logger.Warn("index cache unreadable, starting empty", "error", err)
	}

	if r.config.Gitless {
		return nil
	}
	if !git.IsInstalled() {
		return fmt.Errorf("git is not installed")
	}

	wasNewRepo := false
	if !r.git.IsRepo() {
		if !r.config.AutoInit {
			return fmt.Errorf("path is not a git repository: %s", r.Path)
		}
		if err := r.git.Init(); err != nil {
			return fmt.Errorf("failed to git init: %w", err)
		}
		wasNewRepo = true
	}

	mod, err := r.ensureIgnore()
	if err != nil {
		return fmt.Errorf("failed to ensure .gitignore: %w", err)
	}
	if mod && wasNewRepo {
		if err := r.git.Add(".gitignore"); err != nil {
			return fmt.Errorf("failed to add .gitignore: %w", err)
		}
		if err := r.git.Commit(fmt.Sprintf("chore: configure %s ignore", r.config.SystemDir)); err != nil {
			return fmt.Errorf("failed to commit .gitignore: %w", err)
		}
	}
	return nil
}

// ensureIgnore keeps the system directory and lock file out of history.
func (r *Repository) ensureIgnore() (bool, error) {
	ignorePath := filepath.Join(r.Path, ".gitignore")
	wanted := []string{r.config.SystemDir + "/", r.config.SystemDir + ".lock"}

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	present := make(map[string]bool)
	for _, line := range strings.Split(string(content), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range wanted {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(strings.Join(missing, "\n") + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// Sync synchronizes the repository with its remote.
func (r *Repository) Sync(ctx context.Context) error {
	if r.config.Gitless {
		return fmt.Errorf("cannot sync in gitless mode")
	}
	if !r.git.IsRepo() {
		return fmt.Errorf("path is not a git repository: %s", r.Path)
	}

	unlock, err := r.git.Lock()
	if err != nil {
		return fmt.Errorf("failed to acquire git lock: %w", err)
	}
	defer unlock()

	return r.git.Sync()
}

// Save persists a document, replacing whatever was stored under its ID.
//
// Workflow:
//  1. Resolve the file path and serializer from the ID.
//  2. Read the stored version to compute the next one.
//  3. Serialize and write atomically.
//  4. (If git enabled) stage and commit using the change reason from ctx.
func (r *Repository) Save(ctx context.Context, doc core.Document) (core.Document, error) {
	return r.save(ctx, doc, -1)
}

// SaveIf persists doc only if the stored version equals expected.
func (r *Repository) SaveIf(ctx context.Context, doc core.Document, expected int64) (core.Document, error) {
	if expected < 0 {
		return core.Document{}, fmt.Errorf("invalid expected version %d", expected)
	}
	return r.save(ctx, doc, expected)
}

func (r *Repository) save(ctx context.Context, doc core.Document, expected int64) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	if r.isReadOnly() {
		return core.Document{}, core.ErrReadOnly
	}
	if doc.ID == "" {
		return core.Document{}, fmt.Errorf("document has no ID")
	}

	relPath := r.pathFor(doc.ID)
	ser, ok := r.serializers[path.Ext(relPath)]
	if !ok {
		return core.Document{}, fmt.Errorf("no serializer for %s", relPath)
	}
	fullPath := filepath.Join(r.Path, filepath.FromSlash(relPath))

	unlock, err := r.lockRoot()
	if err != nil {
		return core.Document{}, err
	}
	defer unlock()

	current, err := r.readFile(doc.ID, fullPath)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return core.Document{}, err
	}
	if expected >= 0 && current.Version != expected {
		return core.Document{}, fmt.Errorf("%s: stored version %d, expected %d: %w", doc.ID, current.Version, expected, core.ErrVersionConflict)
	}

	stamp := r.stamp()
	stored := core.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Version:   current.Version + 1,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if current.Exists() {
		stored.CreatedAt = current.CreatedAt
	}

	data, err := ser.Encode(recordFromDocument(stored))
	if err != nil {
		return core.Document{}, fmt.Errorf("failed to serialize %s: %w", doc.ID, err)
	}

	if err := writeFileAtomic(fullPath, data, 0644); err != nil {
		return core.Document{}, err
	}
	r.remember(relPath, fullPath, stored)

	if !r.config.Gitless {
		if err := r.git.Add(relPath); err != nil {
			return core.Document{}, fmt.Errorf("failed to git add: %w", err)
		}
		msg := core.ChangeReason(ctx, "update "+doc.ID)
		if err := r.git.Commit(msg); err != nil {
			return core.Document{}, fmt.Errorf("failed to git commit: %w", err)
		}
	}
	return stored, nil
}

// Get retrieves a document by ID.
func (r *Repository) Get(ctx context.Context, id string) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	relPath := r.pathFor(id)
	return r.readFile(id, filepath.Join(r.Path, filepath.FromSlash(relPath)))
}

func (r *Repository) readFile(id, fullPath string) (core.Document, error) {
	data, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return core.Document{}, fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Document{}, fmt.Errorf("failed to read %s: %w", id, err)
	}
	ser, ok := r.serializers[filepath.Ext(fullPath)]
	if !ok {
		return core.Document{}, fmt.Errorf("no serializer for %s", fullPath)
	}
	rec, err := ser.Decode(data)
	if err != nil {
		return core.Document{}, fmt.Errorf("failed to parse %s: %w", id, err)
	}
	return rec.document(id), nil
}

// List returns every document whose ID starts with prefix, ordered by ID.
// Unchanged files are served from the index cache.
func (r *Repository) List(ctx context.Context, prefix string) ([]core.Document, error) {
	root := r.Path
	if dir := path.Dir(prefix + "x"); dir != "." {
		root = filepath.Join(r.Path, filepath.FromSlash(dir))
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return []core.Document{}, nil
	}

	docs := make([]core.Document, 0)
	seen := make(map[string]bool)

	err := filepath.WalkDir(root, func(fullPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == r.config.SystemDir {
				return filepath.SkipDir
			}
			return nil
		}
		if isTempFile(d.Name()) {
			return nil
		}
		if _, ok := r.serializers[filepath.Ext(d.Name())]; !ok {
			return nil
		}

		relPath, err := filepath.Rel(r.Path, fullPath)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		id := r.idFor(relPath)
		if !strings.HasPrefix(id, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		seen[relPath] = true

		if entry, hit := r.cache.Get(relPath, info.ModTime(), info.Size()); hit {
			docs = append(docs, entry.document())
			return nil
		}

		doc, err := r.readFile(id, fullPath)
		if err != nil {
			r.config.Logger.Warn("skipping unreadable document", "path", relPath, "error", err)
			return nil
		}
		r.cache.Set(relPath, newIndexEntry(doc, info))
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if prefix == "" {
		r.cache.Prune(seen)
	}
	if err := r.cache.Save(); err != nil {
		r.config.Logger.Debug("index cache not saved", "error", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Delete removes a document.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r.isReadOnly() {
		return core.ErrReadOnly
	}
	relPath := r.pathFor(id)
	fullPath := filepath.Join(r.Path, filepath.FromSlash(relPath))

	unlock, err := r.lockRoot()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	r.cache.Delete(relPath)

	if r.config.Gitless {
		if err := os.Remove(fullPath); err != nil {
			return fmt.Errorf("failed to remove file: %w", err)
		}
		return nil
	}

	if err := r.git.Rm(relPath); err != nil {
		// Never committed: plain removal is enough.
		if rmErr := os.Remove(fullPath); rmErr != nil {
			return fmt.Errorf("failed to git rm: %w", err)
		}
		return nil
	}
	return r.git.Commit(core.ChangeReason(ctx, "delete "+id))
}

// lockRoot takes the process mutex and then the lock file at the root, in
// gitless mode too. The stored version must only be read while both are held.
func (r *Repository) lockRoot() (func(), error) {
	r.writeMu.Lock()
	unlock, err := r.git.Lock()
	if err != nil {
		r.writeMu.Unlock()
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	return func() {
		unlock()
		r.writeMu.Unlock()
	}, nil
}

// pathFor maps a document ID to its slash-separated path relative to the root.
func (r *Repository) pathFor(id string) string {
	if _, ok := r.serializers[path.Ext(id)]; ok {
		return id
	}
	return id + r.config.DefaultExt
}

// idFor maps a relative path back to the document ID.
func (r *Repository) idFor(relPath string) string {
	return strings.TrimSuffix(relPath, r.config.DefaultExt)
}

func (r *Repository) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.config.Now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Nanosecond)
	}
	r.last = t
	return t
}

func (r *Repository) remember(relPath, fullPath string, doc core.Document) {
	info, err := os.Stat(fullPath)
	if err != nil {
		r.cache.Delete(relPath)
		return
	}
	r.cache.Set(relPath, newIndexEntry(doc, info))
}

func (r *Repository) isReadOnly() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readOnly
}

// IsGitInstalled checks if git is available in the system path.
func IsGitInstalled() bool {
	return git.IsInstalled()
}

var (
	_ core.Repository  = (*Repository)(nil)
	_ core.Conditional = (*Repository)(nil)
	_ core.Watchable   = (*Repository)(nil)
	_ core.Syncable    = (*Repository)(nil)
)
