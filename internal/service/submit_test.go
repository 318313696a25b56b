package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/transport"
)

type recordingUploader struct {
	calls  int
	server string
	pool   string
	name   string
	size   int64
}

func (u *recordingUploader) Upload(ctx context.Context, server, poolID, name, zipPath string) (transport.Result, error) {
	u.calls++
	u.server, u.pool, u.name = server, poolID, name
	if info, err := os.Stat(zipPath); err == nil {
		u.size = info.Size()
	}
	return transport.ResultSuccess, nil
}

func TestSubmitUploadsExport(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, studentLog)

	var received struct {
		path     string
		filename string
		size     int
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		received.path = r.URL.Path
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		received.filename = header.Filename
		received.size = len(data)
		io.WriteString(w, "success")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h.cfg.Identity.Server = srv.URL + "/ "
	h.cfg.Identity.PoolID = "pool-7"

	svc, err := NewSubmitService(h.export, transport.New(transport.WithHealthRetries(0)), t.TempDir())
	require.NoError(t, err)

	result, err := svc.Submit(context.Background(), treeRoot)
	require.NoError(t, err)
	assert.Equal(t, transport.ResultSuccess, result.Result)
	assert.Equal(t, "Project sent successfully.", result.Result.String())
	assert.Equal(t, "alovelace", result.Export.Name)

	assert.Equal(t, "/upload/pool-7", received.path)
	assert.Equal(t, "alovelace.zip", received.filename)
	assert.Positive(t, received.size)
}

func TestSubmitUsesMarkerTarget(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, studentLog)

	up := &recordingUploader{}
	tmp := t.TempDir()
	svc, err := NewSubmitService(h.export, up, tmp)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), treeRoot)
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, "http://submit.example.edu", up.server, "one trailing slash is trimmed")
	assert.Equal(t, "pool-7", up.pool)
	assert.Positive(t, up.size)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "the archive is removed after upload")
}

func TestSubmitWithoutTarget(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, "OP     9:7     (5-3-2024)     \n")

	up := &recordingUploader{}
	svc, err := NewSubmitService(h.export, up, t.TempDir())
	require.NoError(t, err)

	result, err := svc.Submit(context.Background(), treeRoot)
	assert.ErrorIs(t, err, domain.ErrServerNotConfigured)
	assert.Equal(t, transport.ResultTransportError, result.Result)
	assert.Equal(t, 0, up.calls)
}

func TestSubmitExportFailure(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.writeTree(t, treeRoot)

	up := &recordingUploader{}
	svc, err := NewSubmitService(h.export, up, t.TempDir())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), treeRoot)
	assert.ErrorIs(t, err, domain.ErrNotManaged)
	assert.Equal(t, 0, up.calls)
}
