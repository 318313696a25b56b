package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/checksum"
	"github.com/Ning0612/submitguard/internal/domain"
)

// readArchive returns the entry names of a zip and the decrypted marker
func readArchive(t *testing.T, h *harness, data []byte) ([]string, string) {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	var marker string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name != domain.DefaultMarkerName+domain.EncryptedSuffix {
			continue
		}

		rc, err := f.Open()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)

		scratch := "/scratch/marker.uoc"
		require.NoError(t, afero.WriteFile(h.engine.Fs(), scratch, raw, 0o644))
		plain, err := h.engine.ReadEncrypted(scratch)
		require.NoError(t, err)
		marker = string(plain)
	}
	sort.Strings(names)
	return names, marker
}

func TestExportOrdinary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, studentLog)

	session, err := h.project.Open(ctx, treeRoot)
	require.NoError(t, err)

	var buf bytes.Buffer
	result, err := h.export.Export(ctx, treeRoot, &buf, ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, "alovelace", result.Name)
	assert.Equal(t, "http://submit.example.edu/", result.Server, "target falls back to the marker header")
	assert.Equal(t, "pool-7", result.PoolID)

	names, marker := readArchive(t, h, buf.Bytes())
	assert.Contains(t, names, "main.c.uoc")
	assert.Contains(t, names, "src/util.c.uoc")
	assert.Contains(t, names, "CMakeLists.txt")
	assert.Contains(t, names, domain.DefaultMarkerName+domain.EncryptedSuffix)
	for _, name := range names {
		assert.NotContains(t, name, ".idea", "hidden entries are excluded")
		assert.NotContains(t, name, "index.html", "documentation renders are excluded")
		assert.NotEqual(t, "main.c", name, "no plaintext source")
	}

	assert.Contains(t, marker, studentLog)
	assert.Contains(t, marker, "OP     ", "pending records are flushed first")
	assert.Contains(t, marker, "\nName: Ada Lovelace - Username: alovelace\n")

	assert.True(t, h.exists(treeRoot, "main.c"), "the working tree is untouched")
	assert.False(t, h.exists(treeRoot, "main.c.uoc"))
	assert.NotContains(t, h.markerText(t, treeRoot), "Username:", "identity only goes into the archive")

	require.NoError(t, h.project.Close(ctx, session))
}

func TestExportConfiguredTargetWins(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false,
		withIdentity("Ada Lovelace", "alovelace", "https://other.example.edu", "pool-9"))
	h.protectTree(t, treeRoot, studentLog)

	result, err := h.export.Export(context.Background(), treeRoot, io.Discard, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.edu", result.Server)
	assert.Equal(t, "pool-9", result.PoolID)
}

func TestExportOrdinaryPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unmanaged tree", func(t *testing.T) {
		h := newHarness(t, afero.NewMemMapFs(), false)
		h.writeTree(t, treeRoot)

		_, err := h.export.Export(ctx, treeRoot, io.Discard, ExportOptions{})
		assert.ErrorIs(t, err, domain.ErrNotManaged)
	})

	t.Run("missing identity", func(t *testing.T) {
		h := newHarness(t, afero.NewMemMapFs(), false, withIdentity("", " ", "", ""))
		h.protectTree(t, treeRoot, "")

		_, err := h.export.Export(ctx, treeRoot, io.Discard, ExportOptions{})
		assert.ErrorIs(t, err, domain.ErrIdentityMissing)
	})
}

func TestExportAdministratorTemplate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), true,
		withIdentity("", "", "https://submit.example.edu", "pool-7"))
	h.writeTree(t, treeRoot)
	require.NoError(t, afero.WriteFile(h.engine.Fs(), domain.MarkerFile(treeRoot, ""), []byte("old student log\n"), 0o644))

	t.Run("with target", func(t *testing.T) {
		var buf bytes.Buffer
		result, err := h.export.Export(ctx, treeRoot, &buf, ExportOptions{IncludeTarget: true})
		require.NoError(t, err)
		assert.Equal(t, "lab1", result.Name)

		names, marker := readArchive(t, h, buf.Bytes())
		assert.Contains(t, names, "main.c.uoc")
		assert.NotContains(t, names, domain.DefaultMarkerName)
		assert.Equal(t, "server:https://submit.example.edu\npoolID:pool-7\n**********      **********\n", marker)
	})

	t.Run("without target", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := h.export.Export(ctx, treeRoot, &buf, ExportOptions{})
		require.NoError(t, err)

		_, marker := readArchive(t, h, buf.Bytes())
		assert.Empty(t, marker)
	})

	assert.True(t, h.exists(treeRoot, domain.DefaultMarkerName), "the working tree is untouched")
	assert.True(t, h.exists(treeRoot, "main.c"))
}

func TestExportFile(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, "")

	dest := "/out/alovelace.zip"
	result, err := h.export.ExportFile(context.Background(), treeRoot, dest, ExportOptions{})
	require.NoError(t, err)
	assert.Positive(t, result.Stats.Files)

	data, err := afero.ReadFile(h.engine.Fs(), dest)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), result.Size)

	sum, err := checksum.File(context.Background(), h.engine.Fs(), dest)
	require.NoError(t, err)
	assert.Equal(t, sum, result.SHA256)

	names, _ := readArchive(t, h, data)
	assert.Contains(t, names, "main.c.uoc")

	_, err = h.export.ExportFile(context.Background(), "/course/missing", "/out/missing.zip", ExportOptions{})
	assert.Error(t, err)
	assert.False(t, h.exists("/out", "missing.zip"), "failed exports leave no archive")
}

func TestVerifyArchive(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/out/lab1.zip", []byte("archive bytes"), 0o644))

	want, err := checksum.Reader(ctx, bytes.NewReader([]byte("archive bytes")), checksum.DefaultOptions())
	require.NoError(t, err)

	assert.NoError(t, verifyArchive(ctx, fsys, "/out/lab1.zip", want))
	assert.ErrorContains(t, verifyArchive(ctx, fsys, "/out/lab1.zip", "00"), "digest mismatch")
	assert.Error(t, verifyArchive(ctx, fsys, "/out/missing.zip", want))
}
