package marker

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/domain"
)

const path = "/lab/.uoc.data"

func TestWriteMetadataAndReadTarget(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, path, []byte("stale log\n"), 0o644))

	require.NoError(t, WriteMetadata(fsys, path, "https://submit.example.edu", "pool-7"))

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	nl := domain.Newline()
	assert.Equal(t, "server:https://submit.example.edu"+nl+"poolID:pool-7"+nl+Separator+nl, string(data))

	server, pool, err := ReadTarget(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, "https://submit.example.edu", server)
	assert.Equal(t, "pool-7", pool)
}

func TestWriteMetadataWithoutTarget(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, path, []byte("old"), 0o644))

	require.NoError(t, WriteMetadata(fsys, path, "https://submit.example.edu", " "))

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Empty(t, data)

	server, pool, err := ReadTarget(fsys, path)
	require.NoError(t, err)
	assert.Empty(t, server)
	assert.Empty(t, pool)
}

func TestAppendIdentity(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, path, []byte("OP log"), 0o644))

	require.NoError(t, AppendIdentity(fsys, path, "Ada Lovelace", "alovelace"))

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	nl := domain.Newline()
	assert.Equal(t, "OP log"+nl+"Name: Ada Lovelace - Username: alovelace"+nl, string(data))
}

func TestReadValue(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := "server: http://a \r\npoolID:p1\nOP     9:7     (5-3-2024)     \n"
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))

	tests := []struct {
		line int
		want string
	}{
		{1, "http://a"},
		{2, "p1"},
		{3, ""},
		{10, ""},
	}
	for _, tt := range tests {
		got, err := ReadValue(fsys, path, tt.line)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "line %d", tt.line)
	}

	_, err := ReadValue(fsys, "/missing", 1)
	assert.Error(t, err)
}
