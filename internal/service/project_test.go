package service

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/lock"
	"github.com/Ning0612/submitguard/internal/state"
)

func TestOpenUnmanagedTree(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.writeTree(t, treeRoot)

	_, err := h.project.Open(context.Background(), treeRoot)
	assert.ErrorIs(t, err, domain.ErrNotManaged)
}

func TestOpenCloseOrdinary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, studentLog)

	require.True(t, h.exists(treeRoot, "main.c.uoc"))
	require.True(t, h.exists(treeRoot, "CMakeLists.txt"), "project files stay readable")

	session, err := h.project.Open(ctx, treeRoot)
	require.NoError(t, err)

	assert.True(t, session.WasProtected)
	assert.Equal(t, 3, session.Decrypted)
	assert.Equal(t, domain.ActorOrdinary, session.Actor)
	assert.Equal(t, "lab1", session.Name())
	assert.True(t, h.exists(treeRoot, "main.c"))
	assert.True(t, h.exists(treeRoot, "docs/html/index.html"))
	assert.True(t, h.exists(treeRoot, domain.DefaultMarkerName+domain.EncryptedSuffix), "marker stays encrypted")
	assert.Equal(t, 1, h.flush.Registered())

	managed, err := h.state.IsManaged(treeRoot)
	require.NoError(t, err)
	assert.True(t, managed)

	require.NoError(t, h.project.Close(ctx, session))

	assert.True(t, h.exists(treeRoot, "main.c.uoc"))
	assert.False(t, h.exists(treeRoot, "main.c"))
	assert.True(t, h.exists(treeRoot, ".idea/workspace.xml"))
	assert.Equal(t, 0, h.flush.Registered())

	text := h.markerText(t, treeRoot)
	assert.True(t, len(text) > len(studentLog))
	assert.Equal(t, studentLog, text[:len(studentLog)], "header is preserved")
	assert.Contains(t, text, "OP     ")
	assert.Contains(t, text, "CL     ")

	managed, err = h.state.IsManaged(treeRoot)
	require.NoError(t, err)
	assert.False(t, managed)

	record, err := h.state.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusClosed, record.Status)
	assert.Equal(t, 3, record.Files)

	assert.ErrorIs(t, h.project.Close(ctx, session), domain.ErrSessionClosed)
	assert.True(t, session.Closed())
}

func TestOpenCloseAdministrator(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), true)
	h.protectTree(t, treeRoot, studentLog)

	session, err := h.project.Open(ctx, treeRoot)
	require.NoError(t, err)
	assert.Equal(t, domain.ActorAdministrator, session.Actor)

	assert.True(t, h.exists(treeRoot, "main.c"))
	assert.True(t, h.exists(treeRoot, domain.DefaultMarkerName), "administrators read the marker")
	assert.False(t, h.exists(treeRoot, domain.DefaultMarkerName+domain.EncryptedSuffix))

	data, err := afero.ReadFile(h.engine.Fs(), domain.MarkerFile(treeRoot, ""))
	require.NoError(t, err)
	assert.Equal(t, studentLog, string(data), "administrator sessions record nothing")

	require.NoError(t, h.project.Close(ctx, session))
	assert.True(t, h.exists(treeRoot, "main.c"), "administrator close leaves the tree readable")
}

func TestResumeClosesSessionFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, "")

	opened, err := h.project.Open(ctx, treeRoot)
	require.NoError(t, err)
	require.NoError(t, opened.Logger.Flush(ctx))

	resumed, err := h.project.Resume(ctx, treeRoot)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, resumed.ID)
	assert.True(t, resumed.WasProtected)

	require.NoError(t, h.project.Close(ctx, resumed))
	assert.True(t, h.exists(treeRoot, "main.c.uoc"))

	text := h.markerText(t, treeRoot)
	assert.Contains(t, text, "OP")
	assert.Contains(t, text, "CL")

	history, err := h.project.History(treeRoot, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, state.StatusClosed, history[0].Status)
}

func TestResumeWithoutOpenSession(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.writeTree(t, treeRoot)

	_, err := h.project.Resume(context.Background(), treeRoot)
	assert.ErrorIs(t, err, domain.ErrNotManaged)
}

func TestEncryptAndDecryptTree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), true)
	h.writeTree(t, treeRoot)
	require.False(t, h.project.IsManagedTree(treeRoot))

	count, err := h.project.EncryptTree(ctx, treeRoot)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, h.project.IsManagedTree(treeRoot), "encrypting creates the marker")
	assert.Empty(t, h.markerText(t, treeRoot))

	count, err = h.project.DecryptTree(ctx, treeRoot)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, h.exists(treeRoot, "src/util.c"))
	assert.True(t, h.project.IsManagedTree(treeRoot))
}

func TestDecryptTreeRequiresAdministrator(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, "")

	_, err := h.project.DecryptTree(context.Background(), treeRoot)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.True(t, h.exists(treeRoot, "main.c.uoc"))
}

func TestEncryptTreeProtectsPlainMarker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, afero.NewMemMapFs(), true)
	h.writeTree(t, treeRoot)
	require.NoError(t, afero.WriteFile(h.engine.Fs(), domain.MarkerFile(treeRoot, ""), []byte(studentLog), 0o644))

	_, err := h.project.EncryptTree(ctx, treeRoot)
	require.NoError(t, err)

	assert.False(t, h.exists(treeRoot, domain.DefaultMarkerName))
	assert.Equal(t, studentLog, h.markerText(t, treeRoot))
}

func TestOpenBusyTree(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs(), false)
	h.protectTree(t, treeRoot, "")

	holder, err := lock.NewTreeLock(h.cfg.StatePath(lock.LockDirName), treeRoot)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire("export"))
	defer holder.Release()

	_, err = h.project.Open(context.Background(), treeRoot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTreeBusy))
	assert.True(t, lock.IsLockError(err))
	assert.True(t, h.exists(treeRoot, "main.c.uoc"), "a busy tree is left alone")
}
