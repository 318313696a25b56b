package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/briandowns/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/config"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"open", "close", "encrypt", "decrypt", "zip", "submit", "watch", "status", "unlock", "log", "secret", "identity"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	set, _, err := rootCmd.Find([]string{"secret", "set"})
	require.NoError(t, err)
	assert.NotNil(t, set.Flags().Lookup("admin"))
}

func TestResolveRoots(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	roots, err := resolveRoots(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{cwd}, roots)

	roots, err = resolveRoots([]string{"lab1", "./lab1", "lab2"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cwd, "lab1"), filepath.Join(cwd, "lab2")}, roots)
}

func TestFail(t *testing.T) {
	s := spinner.New(spinner.CharSets[14], 0)
	cause := errors.New("boom")

	err := fail(s, "Failed to open /course/lab1", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to open /course/lab1: boom", err.Error())
	assert.Contains(t, s.FinalMSG, "Failed to open /course/lab1")
}

func TestIdentitySetWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cipher:\n  passphrase: course-secret\n"), 0o600))
	t.Cleanup(func() {
		cfgFile = ""
		identity = config.IdentityConfig{}
	})

	rootCmd.SetArgs([]string{"identity", "set", "--config", path,
		"--name", "Ada Lovelace", "--user", "alovelace", "--server", "http://submit.example.edu", "--pool", "pool-7"})
	require.NoError(t, rootCmd.Execute())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "course-secret", cfg.Cipher.Passphrase, "other keys are kept")
	assert.Equal(t, "Ada Lovelace", cfg.Identity.FullName)
	assert.Equal(t, "alovelace", cfg.Identity.UserID)
	assert.Equal(t, "pool-7", cfg.Identity.PoolID)
	assert.True(t, cfg.HasIdentity())
}

func TestIdentitySetRequiresName(t *testing.T) {
	t.Cleanup(func() { identity = config.IdentityConfig{} })

	rootCmd.SetArgs([]string{"identity", "set", "--config", filepath.Join(t.TempDir(), "config.yaml"), "--user", "alovelace"})
	assert.Error(t, rootCmd.Execute())
}
