package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/dealroom/pkg/adapters/fs"
	"github.com/aretw0/dealroom/pkg/adapters/memory"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/git"
)

const defaultSystemDir = ".dealroom"

// Open initializes the store at uri and wraps it in a core.Service.
// The uri is adapter-specific: a directory for "fs", ignored for "memory".
//
//	svc, err := platform.Open("./data", platform.WithAutoInit(true))
func Open(uri string, opts ...Option) (*core.Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	repo, err := initRepository(uri, o)
	if err != nil {
		return nil, err
	}
	var svcOpts []core.ServiceOption
	if o.logger != nil {
		svcOpts = append(svcOpts, core.WithServiceLogger(o.logger))
	}
	if o.eventBuffer > 0 {
		svcOpts = append(svcOpts, core.WithEventBufferSize(o.eventBuffer))
	}
	return core.NewService(repo, svcOpts...), nil
}

// Init initializes the store at uri and returns the bare repository.
func Init(uri string, opts ...Option) (core.Repository, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return initRepository(uri, o)
}

func initRepository(uri string, o *options) (core.Repository, error) {
	if o.repository != nil {
		return o.repository, nil
	}

	var repo core.Repository
	switch o.adapter {
	case AdapterFS, "":
		fsRepo, err := newFS(uri, o)
		if err != nil {
			return nil, err
		}
		repo = fsRepo
	case AdapterMemory:
		repo = memory.NewRepository(memory.WithReadOnly(o.readOnly))
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}

	if err := repo.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func newFS(path string, o *options) (*fs.Repository, error) {
	if path == "" {
		path = "."
	}
	systemDir := o.systemDir
	if systemDir == "" {
		systemDir = defaultSystemDir
	}

	gitless := !detectVersioning(path, systemDir, o)
	if gitless && o.versioning == nil && o.logger != nil {
		o.logger.Debug("auto-detected gitless mode", "reason", ".git missing", "path", path)
	}

	repo := fs.NewRepository(fs.Config{
		Path:         path,
		AutoInit:     o.autoInit,
		Gitless:      gitless,
		MustExist:    o.mustExist || !o.autoInit,
		ReadOnly:     o.readOnly,
		Strict:       o.strict,
		Logger:       o.logger,
		SystemDir:    systemDir,
		ErrorHandler: o.errorHandler,
	})
	for ext, s := range o.serializers {
		if s == nil {
			return nil, fmt.Errorf("nil serializer for %s", ext)
		}
		repo.RegisterSerializer(ext, s)
	}
	return repo, nil
}

// detectVersioning decides whether the store is git-backed when the caller
// did not say. An existing .git wins. A fresh auto-initialized store is
// versioned when git is installed; an existing gitless store stays gitless.
func detectVersioning(path, systemDir string, o *options) bool {
	if o.versioning != nil {
		return *o.versioning
	}
	if hasFile(path, ".git") {
		return true
	}
	if !o.autoInit || hasFile(path, systemDir) {
		return false
	}
	return git.IsInstalled()
}

// Sync pulls and pushes the git-backed store at uri.
func Sync(ctx context.Context, uri string, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	o.mustExist = true

	repo := o.repository
	if repo == nil {
		if o.adapter != AdapterFS && o.adapter != "" {
			return fmt.Errorf("adapter %s does not support synchronization", o.adapter)
		}
		fsRepo, err := newFS(uri, o)
		if err != nil {
			return err
		}
		repo = fsRepo
	}

	syncable, ok := repo.(core.Syncable)
	if !ok {
		return fmt.Errorf("repository does not support synchronization")
	}
	return syncable.Sync(ctx)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
