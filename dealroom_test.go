package dealroom_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom"
	"github.com/aretw0/dealroom/internal/config"
	"github.com/aretw0/dealroom/pkg/domain"
)

func memoryConfig() config.Config {
	return config.Config{Adapter: "memory", MatchCache: "memory", MatchTTL: time.Hour}
}

func TestOpen_Memory(t *testing.T) {
	app, err := dealroom.Open(memoryConfig())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Coordinator)
	assert.Nil(t, app.Finder)
	_, err = app.MatchFinder()
	assert.ErrorIs(t, err, dealroom.ErrScoringDisabled)

	_, err = app.Authenticator()
	assert.Error(t, err, "a JWT secret is required")
}

func TestOpen_WithScoringAndSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.ScoringURL = "http://scoring.invalid"
	cfg.ScoringTimeout = time.Second
	cfg.JWTSecret = "secret"

	app, err := dealroom.Open(cfg)
	require.NoError(t, err)
	defer app.Close()

	f, err := app.MatchFinder()
	require.NoError(t, err)
	assert.NotNil(t, f)

	ctx := context.Background()
	require.NoError(t, app.Directory.Put(ctx, domain.Profile{ID: "inv-1", Role: domain.RoleInvestor, DisplayName: "Asha"}))

	issuer, err := app.Issuer()
	require.NoError(t, err)
	token, err := issuer.Issue(domain.Party{ID: "inv-1", Role: domain.RoleInvestor}, time.Hour)
	require.NoError(t, err)

	auth, err := app.Authenticator()
	require.NoError(t, err)
	id, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Asha", id.Profile.DisplayName)

	srv := httptest.NewServer(app.Gateway(auth).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpen_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "room")
	cfg := config.Config{
		StorePath:  dir,
		Adapter:    "fs",
		Versioning: config.VersioningOff,
		MatchCache: "file:" + filepath.Join(dir, ".dealroom", "matches.json"),
		MatchTTL:   time.Hour,
	}

	app, err := dealroom.Open(cfg, dealroom.WithAutoInit(true))
	require.NoError(t, err)

	ctx := context.Background()
	business := domain.Party{ID: "biz-1", Role: domain.RoleBusiness}
	investor := domain.Party{ID: "inv-1", Role: domain.RoleInvestor}
	conv, err := app.Conversations.Create(ctx, "c1", business, investor)
	require.NoError(t, err)
	_, err = app.Feed.Post(ctx, conv, investor, "hello")
	require.NoError(t, err)
	require.NoError(t, app.Close())

	reopened, err := dealroom.Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.Feed.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestOpen_MissingStore(t *testing.T) {
	cfg := config.Config{StorePath: filepath.Join(t.TempDir(), "absent"), Adapter: "fs", MatchCache: "memory"}
	_, err := dealroom.Open(cfg)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, dealroom.Version)
}
