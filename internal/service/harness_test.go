package service

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/cipher"
	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/credential"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/state"
)

const (
	treeRoot     = "/course/lab1"
	studentLog   = "server:http://submit.example.edu/\npoolID:pool-7\n**********      **********\n"
	testPassword = "course-key"
)

var labFiles = map[string]string{
	"main.c":               "int main() {\n  return 0;\n}\n",
	"src/util.c":           "void util() {}\n",
	"CMakeLists.txt":       "project(lab1)\n",
	".idea/workspace.xml":  "<project/>\n",
	"docs/html/index.html": "<html></html>\n",
}

type harness struct {
	cfg     *config.Config
	engine  *cipher.Engine
	store   *credential.MemoryStore
	state   *state.Manager
	flush   *activity.Service
	project *ProjectService
	export  *ExportService
}

type harnessOption func(*config.Config)

func withIdentity(full, user, server, pool string) harnessOption {
	return func(c *config.Config) {
		c.Identity = config.IdentityConfig{FullName: full, UserID: user, Server: server, PoolID: pool}
	}
}

func newHarness(t *testing.T, fsys afero.Fs, admin bool, opts ...harnessOption) *harness {
	t.Helper()

	stateDir := t.TempDir()
	cfg, err := config.LoadFromString(fmt.Sprintf(`
cipher:
  passphrase: %s
activity:
  open_delay: 0s
  create_suppression: 0s
  cooldown: 0s
  flush_period: 1h
  shutdown_grace: 1s
settings:
  state_dir: %q
`, testPassword, filepath.ToSlash(stateDir)))
	require.NoError(t, err)
	cfg.Identity = config.IdentityConfig{FullName: "Ada Lovelace", UserID: "alovelace"}
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	key, err := cipher.DeriveKey(cfg.Cipher.Passphrase)
	require.NoError(t, err)
	engine, err := cipher.New(fsys, key)
	require.NoError(t, err)

	store := credential.NewMemoryStore()
	if admin {
		require.NoError(t, store.Set(credential.ScopeAdministrative, cfg.AdminSecret()))
	}
	gate := credential.NewGate(store, cfg.AdminSecret())

	stateMgr, err := state.NewManager(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { stateMgr.Close() })

	flush, err := activity.NewService(time.Hour, time.Second)
	require.NoError(t, err)

	project, err := NewProjectService(cfg, engine, gate, stateMgr, flush)
	require.NoError(t, err)
	export, err := NewExportService(cfg, engine, gate, flush, nil)
	require.NoError(t, err)

	return &harness{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		state:   stateMgr,
		flush:   flush,
		project: project,
		export:  export,
	}
}

// writeTree creates the lab files under root
func (h *harness) writeTree(t *testing.T, root string) {
	t.Helper()
	fsys := h.engine.Fs()
	for rel, content := range labFiles {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
}

// protectTree writes the lab files, the encrypted marker holding log, and
// encrypts the tree as a distributed assignment would be.
func (h *harness) protectTree(t *testing.T, root, log string) {
	t.Helper()
	h.writeTree(t, root)
	require.NoError(t, h.engine.WriteEncrypted(domain.EncryptedMarkerFile(root, ""), []byte(log)))
	_, err := h.engine.EncryptTree(t.Context(), root, filter.EncryptionRules(""))
	require.NoError(t, err)
}

func (h *harness) markerText(t *testing.T, root string) string {
	t.Helper()
	data, err := h.engine.ReadEncrypted(domain.EncryptedMarkerFile(root, ""))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) exists(root, rel string) bool {
	_, err := h.engine.Fs().Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}
