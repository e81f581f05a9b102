package dealroom

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/dealroom/internal/config"
	"github.com/aretw0/dealroom/internal/platform"
	"github.com/aretw0/dealroom/pkg/coordinator"
	"github.com/aretw0/dealroom/pkg/core"
	"github.com/aretw0/dealroom/pkg/directory"
	"github.com/aretw0/dealroom/pkg/feed"
	"github.com/aretw0/dealroom/pkg/gateway"
	"github.com/aretw0/dealroom/pkg/identity"
	"github.com/aretw0/dealroom/pkg/kv"
	"github.com/aretw0/dealroom/pkg/matchmaking"
	"github.com/aretw0/dealroom/pkg/negotiation"
)

// ErrScoringDisabled is returned by match operations when no scoring
// service is configured.
var ErrScoringDisabled = errors.New("scoring service not configured")

// App holds the wired components.
type App struct {
	Store         *core.Service
	Conversations *coordinator.Conversations
	Proposals     *negotiation.Service
	Feed          *feed.Feed
	Directory     *directory.Store
	Coordinator   *coordinator.Coordinator
	// Finder is nil when no scoring URL is configured.
	Finder *matchmaking.Finder

	cfg    config.Config
	cache  kv.Store
	logger *slog.Logger
}

type options struct {
	logger     *slog.Logger
	repository core.Repository
	autoInit   bool
	now        func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRepository injects a storage adapter, bypassing cfg.Adapter.
func WithRepository(repo core.Repository) Option {
	return func(o *options) { o.repository = repo }
}

// WithAutoInit creates the store directory when it does not exist.
func WithAutoInit(auto bool) Option {
	return func(o *options) { o.autoInit = auto }
}

// WithClock overrides the clock of history timestamps and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Open builds an App from cfg.
func Open(cfg config.Config, opts ...Option) (*App, error) {
	o := &options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	storeOpts := []platform.Option{
		platform.WithAdapter(cfg.Adapter),
		platform.WithLogger(o.logger),
		platform.WithAutoInit(o.autoInit),
	}
	if v := cfg.VersioningEnabled(); v != nil {
		storeOpts = append(storeOpts, platform.WithVersioning(*v))
	}
	if o.repository != nil {
		storeOpts = append(storeOpts, platform.WithRepository(o.repository))
	}
	store, err := platform.Open(cfg.StorePath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache, err := kv.Open(cfg.MatchCacheDSN())
	if err != nil {
		return nil, fmt.Errorf("open match cache: %w", err)
	}

	app := &App{
		Store:         store,
		Conversations: coordinator.NewConversations(store),
		Proposals:     negotiation.NewService(store, negotiation.WithLogger(o.logger), negotiation.WithClock(o.now)),
		Feed:          feed.New(store, feed.WithLogger(o.logger)),
		Directory:     directory.NewStore(store),
		cfg:           cfg,
		cache:         cache,
		logger:        o.logger,
	}

	coordOpts := []coordinator.Option{coordinator.WithLogger(o.logger)}
	if cfg.IgnoreStale {
		coordOpts = append(coordOpts, coordinator.IgnoreStale())
	}
	app.Coordinator = coordinator.New(app.Conversations, app.Proposals, app.Feed, coordOpts...)

	if cfg.ScoringURL != "" {
		client := matchmaking.NewClient(cfg.ScoringURL,
			matchmaking.WithTimeout(cfg.ScoringTimeout),
			matchmaking.WithClientLogger(o.logger),
		)
		app.Finder = matchmaking.NewFinder(
			matchmaking.NewCache(cache, cfg.MatchTTL, o.now),
			app.Directory, client, o.logger,
		)
	}
	return app, nil
}

// Authenticator returns the JWT provider for cfg.JWTSecret. Identities carry
// the party's stored profile when one exists.
func (a *App) Authenticator() (identity.Provider, error) {
	return a.jwt()
}

// Issuer returns the JWT provider, which can also sign tokens.
func (a *App) Issuer() (*identity.JWT, error) {
	return a.jwt()
}

func (a *App) jwt() (*identity.JWT, error) {
	if a.cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required (DEALROOM_JWT_SECRET)")
	}
	return identity.NewJWT([]byte(a.cfg.JWTSecret), identity.WithProfiles(a.Directory))
}

// Gateway returns the HTTP front end for the app.
func (a *App) Gateway(auth identity.Provider) *gateway.Server {
	opts := []gateway.Option{gateway.WithLogger(a.logger)}
	if a.Finder != nil {
		opts = append(opts, gateway.WithFinder(a.Finder))
	}
	if len(a.cfg.AllowedOrigins) > 0 {
		opts = append(opts, gateway.WithAllowedOrigins(a.cfg.AllowedOrigins...))
	}
	return gateway.New(a.Coordinator, auth, opts...)
}

// MatchFinder returns the finder or ErrScoringDisabled.
func (a *App) MatchFinder() (*matchmaking.Finder, error) {
	if a.Finder == nil {
		return nil, ErrScoringDisabled
	}
	return a.Finder, nil
}

// Close releases the match cache.
func (a *App) Close() error {
	return a.cache.Close()
}
