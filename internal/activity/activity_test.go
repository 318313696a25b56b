package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/submitguard/internal/cipher"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
)

const root = "/course/lab1"

var fixedNow = time.Date(2024, time.March, 5, 9, 7, 0, 0, time.UTC)

func newEngine(t *testing.T) *cipher.Engine {
	t.Helper()
	key, err := cipher.DeriveKey("course-key")
	require.NoError(t, err)
	e, err := cipher.New(afero.NewMemMapFs(), key)
	require.NoError(t, err)
	require.NoError(t, e.Fs().MkdirAll(root, 0o755))
	return e
}

func managedEngine(t *testing.T, initial string) *cipher.Engine {
	t.Helper()
	e := newEngine(t)
	require.NoError(t, e.WriteEncrypted(domain.EncryptedMarkerFile(root, ""), []byte(initial)))
	return e
}

func testOptions() Options {
	return Options{
		Cooldown:             time.Hour,
		OpenDelay:            0,
		CreateSuppression:    0,
		LargeEditThreshold:   20,
		BoilerplateMaxLength: 30,
		BoilerplatePrefixes:  []string{"import ", "#include"},
		Relevance:            filter.RelevanceRules("", []string{"go", "py", "c"}),
		Newline:              "\n",
		Now:                  func() time.Time { return fixedNow },
	}
}

func markerText(t *testing.T, e *cipher.Engine) string {
	t.Helper()
	data, err := e.ReadEncrypted(domain.EncryptedMarkerFile(root, ""))
	require.NoError(t, err)
	return string(data)
}

func TestBufferRequeueKeepsOrder(t *testing.T) {
	var b Buffer
	b.Append(domain.EventRecord{FileName: "a"})
	b.Append(domain.EventRecord{FileName: "b"})

	batch := b.Drain()
	require.Len(t, batch, 2)
	assert.Equal(t, 0, b.Len())

	b.Append(domain.EventRecord{FileName: "c"})
	b.Requeue(batch)

	got := b.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].FileName)
	assert.Equal(t, "b", got[1].FileName)
	assert.Equal(t, "c", got[2].FileName)
}

func TestUnmanagedTreeRecordsNothing(t *testing.T) {
	l := New(root, newEngine(t), testOptions())

	assert.False(t, l.Managed())
	assert.False(t, l.RecordLifecycle(true))
	assert.False(t, l.RecordModification("main.go", root+"/main.go", 4))
	assert.Equal(t, 0, l.Pending())
	assert.NoError(t, l.Flush(context.Background()))
}

func TestFlushAppendsFormattedLines(t *testing.T) {
	e := managedEngine(t, "header\n")
	l := New(root, e, testOptions())
	defer l.Stop()

	require.True(t, l.RecordLifecycle(true))
	require.True(t, l.RecordModification("main.go", root+"/main.go", 12))
	require.True(t, l.RecordCreateOrDelete("util.go", root+"/util.go", false))
	require.True(t, l.RecordLifecycle(false))
	require.NoError(t, l.Flush(context.Background()))

	want := "header\n" +
		"OP     9:7     (5-3-2024)     \n" +
		"MD     9:7     (5-3-2024)     Line: 12     File: main.go\n" +
		"CR     9:7     (5-3-2024)      File: util.go\n" +
		"CL     9:7     (5-3-2024)     \n"
	assert.Equal(t, want, markerText(t, e))
	assert.Equal(t, 0, l.Pending())

	// An empty flush leaves the marker alone
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, want, markerText(t, e))
}

func TestModificationFiltering(t *testing.T) {
	l := New(root, managedEngine(t, ""), testOptions())
	defer l.Stop()

	assert.False(t, l.RecordModification("main.go", root+"/main.go", 1), "first line is ignored")
	assert.False(t, l.RecordModification("notes.txt", root+"/notes.txt", 3), "extension not relevant")
	assert.False(t, l.RecordModification("Makefile", root+"/Makefile", 3), "no extension")
	assert.False(t, l.RecordModification("ws.xml", root+"/.idea/ws.xml", 3))
	assert.False(t, l.RecordModification("x.go", "/elsewhere/x.go", 3), "outside the tree")

	assert.True(t, l.RecordModification("main.go", root+"/main.go", 3))
	assert.False(t, l.RecordModification("main.go", root+"/main.go", 9), "cooling down")
	assert.True(t, l.RecordModification("util.go", root+"/util.go", 9), "other files are independent")
	assert.Equal(t, 2, l.Pending())
}

func TestCooldownExpires(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = 20 * time.Millisecond
	l := New(root, managedEngine(t, ""), opts)
	defer l.Stop()

	require.True(t, l.RecordModification("main.go", root+"/main.go", 3))
	require.False(t, l.RecordModification("main.go", root+"/main.go", 4))

	assert.Eventually(t, func() bool {
		return l.RecordModification("main.go", root+"/main.go", 5)
	}, time.Second, 5*time.Millisecond)
}

func TestLargeModification(t *testing.T) {
	e := managedEngine(t, "")
	l := New(root, e, testOptions())
	defer l.Stop()

	assert.False(t, l.RecordLargeModification("main.py", root+"/main.py", 2, "   \n\t"))
	assert.False(t, l.RecordLargeModification("main.py", root+"/main.py", 2, "import os"))

	long := "import os\nimport sys\nprint(sys.argv[1:])"
	require.Greater(t, len(long), 30)
	assert.True(t, l.RecordLargeModification("main.py", root+"/main.py", 2, long))

	// The cool-down does not hold large edits back
	require.True(t, l.RecordModification("main.py", root+"/main.py", 3))
	assert.True(t, l.RecordLargeModification("main.py", root+"/main.py", 4, "def solve(n):\n    return n * 2\n"))

	require.NoError(t, l.Flush(context.Background()))
	text := markerText(t, e)
	assert.Contains(t, text, "MD     9:7     (5-3-2024)     Line: 2     File: main.py     PASTED CODE:\n\n"+long+"\n\n")
	assert.Equal(t, 3, strings.Count(text, "MD"))
}

func TestOpenDelaySuppressesCreateDelete(t *testing.T) {
	now := fixedNow
	opts := testOptions()
	opts.OpenDelay = 10 * time.Second
	opts.Now = func() time.Time { return now }
	l := New(root, managedEngine(t, ""), opts)
	defer l.Stop()

	// Before the tree was opened nothing is suppressed
	assert.True(t, l.RecordCreateOrDelete("a.go", root+"/a.go", true))

	require.True(t, l.RecordLifecycle(true))
	now = now.Add(5 * time.Second)
	assert.False(t, l.RecordCreateOrDelete("b.go", root+"/b.go", true))

	now = now.Add(6 * time.Second)
	assert.True(t, l.RecordCreateOrDelete("b.go", root+"/b.go", true))
}

func TestCreateSuppressesModifications(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = 0
	opts.CreateSuppression = 30 * time.Millisecond
	l := New(root, managedEngine(t, ""), opts)
	defer l.Stop()

	require.True(t, l.RecordCreateOrDelete("new.go", root+"/new.go", false))
	assert.False(t, l.RecordModification("new.go", root+"/new.go", 5))
	assert.False(t, l.RecordLargeModification("new.go", root+"/new.go", 5, strings.Repeat("x", 40)))

	// Deletes do not start the window
	require.True(t, l.RecordCreateOrDelete("old.go", root+"/old.go", true))

	assert.Eventually(t, func() bool {
		return l.RecordModification("new.go", root+"/new.go", 5)
	}, time.Second, 5*time.Millisecond)
}

func TestStaleCreateTimerKeepsNewerWindow(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = 0
	opts.CreateSuppression = time.Hour
	l := New(root, managedEngine(t, ""), opts)
	defer l.Stop()

	require.True(t, l.RecordCreateOrDelete("a.go", root+"/a.go", false))
	require.True(t, l.RecordCreateOrDelete("b.go", root+"/b.go", false))

	// the first window's timer firing late must not end the second window
	l.endCreateSuppression(1)
	assert.False(t, l.RecordModification("b.go", root+"/b.go", 5))

	l.endCreateSuppression(2)
	assert.True(t, l.RecordModification("b.go", root+"/b.go", 5))
}

func TestBoilerplateLengthCountsCharacters(t *testing.T) {
	l := New(root, managedEngine(t, ""), testOptions())
	defer l.Stop()

	// 27 characters, 42 bytes
	snippet := "#include // " + strings.Repeat("é", 15)
	require.Greater(t, len(snippet), 30)
	assert.False(t, l.RecordLargeModification("main.c", root+"/main.c", 2, snippet))

	assert.True(t, l.RecordLargeModification("main.c", root+"/main.c", 2, "#include // "+strings.Repeat("é", 19)))
}

func TestConcurrentRecordAndFlush(t *testing.T) {
	const (
		writers   = 8
		perWriter = 200
		files     = 100
	)

	e := managedEngine(t, "")
	opts := testOptions()
	l := New(root, e, opts)
	defer l.Stop()

	ctx := context.Background()
	done := make(chan struct{})
	flushed := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				flushed <- nil
				return
			default:
			}
			if err := l.Flush(ctx); err != nil {
				flushed <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				l.RecordLifecycle(true)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < files; i++ {
			name := fmt.Sprintf("f%d.go", i)
			l.RecordModification(name, root+"/"+name, 3)
			l.RecordCreateOrDelete(name, root+"/"+name, i%2 == 0)
		}
	}()

	wg.Wait()
	close(done)
	require.NoError(t, <-flushed)
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 0, l.Pending())

	counts := map[string]int{}
	for _, line := range strings.Split(markerText(t, e), "\n") {
		if len(line) >= 2 {
			counts[line[:2]]++
		}
	}
	assert.Equal(t, writers*perWriter, counts["OP"])
	assert.Equal(t, files, counts["MD"])
	assert.Equal(t, files/2, counts["DL"])
	assert.Equal(t, files/2, counts["CR"])
}

func TestSuppressedLoggerRecordsNothing(t *testing.T) {
	opts := testOptions()
	opts.Suppressed = true
	l := New(root, managedEngine(t, ""), opts)

	assert.False(t, l.RecordLifecycle(true))
	assert.False(t, l.RecordModification("main.go", root+"/main.go", 3))
	assert.False(t, l.RecordCreateOrDelete("main.go", root+"/main.go", false))
	assert.Equal(t, 0, l.Pending())
}

func TestReadyGate(t *testing.T) {
	opts := testOptions()
	opts.WaitForReady = true
	l := New(root, managedEngine(t, ""), opts)
	defer l.Stop()

	assert.True(t, l.RecordLifecycle(true), "lifecycle is recorded before ready")
	assert.False(t, l.RecordModification("main.go", root+"/main.go", 3))

	l.MarkReady()
	assert.True(t, l.RecordModification("main.go", root+"/main.go", 3))
}

func TestStopDropsLaterRecords(t *testing.T) {
	l := New(root, managedEngine(t, ""), testOptions())
	require.True(t, l.RecordModification("main.go", root+"/main.go", 3))

	l.Stop()
	assert.False(t, l.RecordModification("util.go", root+"/util.go", 3))
	assert.Equal(t, 1, l.Pending(), "buffered records survive Stop")
}

func TestHandleEdit(t *testing.T) {
	l := New(root, managedEngine(t, ""), testOptions())
	defer l.Stop()

	doc := "package main\n\nfunc main() {\n}\n"
	ev := EditEvent{Path: root + "/main.go", Offset: strings.Index(doc, "func"), OldLen: 0, NewLen: 1, Document: doc}
	assert.Equal(t, 3, ev.LineNumber())
	require.True(t, l.HandleEdit(ev))

	paste := strings.Repeat("fmt.Println(i)\n", 3)
	large := EditEvent{Path: root + "/util.go", Line: 7, NewLen: len(paste), Inserted: paste}
	require.True(t, l.HandleEdit(large))

	batch := l.buf.Drain()
	require.Len(t, batch, 2)
	assert.Equal(t, domain.EventModified, batch[0].Kind)
	assert.Equal(t, 3, batch[0].Line)
	assert.Equal(t, domain.EventModifiedLarge, batch[1].Kind)
	assert.Equal(t, "util.go", batch[1].FileName)
	assert.Equal(t, paste, batch[1].Text)

	assert.True(t, l.HandleFile(FileEvent{Path: root + "/gone.c", Delete: true}))
}

func TestLineNumberClampsOffset(t *testing.T) {
	assert.Equal(t, 1, EditEvent{Offset: 10}.LineNumber())
	assert.Equal(t, 3, EditEvent{Offset: 100, Document: "a\nb\nc"}.LineNumber())
}

type flakyStore struct {
	*cipher.Engine
	failures atomic.Int32
}

func (f *flakyStore) WriteEncrypted(path string, data []byte) error {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("disk full")
	}
	return f.Engine.WriteEncrypted(path, data)
}

func TestFlushFailureRequeues(t *testing.T) {
	e := managedEngine(t, "")
	store := &flakyStore{Engine: e}
	store.failures.Store(1)

	l := New(root, store, testOptions())
	defer l.Stop()

	require.True(t, l.RecordLifecycle(true))
	err := l.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, l.Pending())
	assert.Empty(t, markerText(t, e))

	require.True(t, l.RecordModification("main.go", root+"/main.go", 8))
	require.NoError(t, l.Flush(context.Background()))

	text := markerText(t, e)
	assert.True(t, strings.HasPrefix(text, "OP"), "requeued records are written first: %q", text)
	assert.Contains(t, text, "File: main.go")
}

func TestFlushCancelled(t *testing.T) {
	l := New(root, managedEngine(t, ""), testOptions())
	require.True(t, l.RecordLifecycle(true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Flush(ctx), context.Canceled)
	assert.Equal(t, 1, l.Pending())
}

func TestServiceFlushAll(t *testing.T) {
	e := managedEngine(t, "")
	a := New(root, e, testOptions())
	b := New(root, e, testOptions())

	svc, err := NewService(time.Hour, time.Second)
	require.NoError(t, err)

	svc.Register(a)
	svc.Register(a)
	svc.Register(b)
	assert.Equal(t, 2, svc.Registered())

	require.True(t, a.RecordLifecycle(true))
	require.True(t, b.RecordLifecycle(false))
	require.NoError(t, svc.FlushAll(context.Background()))

	text := markerText(t, e)
	assert.Contains(t, text, "OP")
	assert.Contains(t, text, "CL")

	svc.Unregister(a)
	assert.Equal(t, 1, svc.Registered())
}

func TestServicePeriodicFlushAndStop(t *testing.T) {
	e := managedEngine(t, "")
	l := New(root, e, testOptions())

	svc, err := NewService(20*time.Millisecond, time.Second)
	require.NoError(t, err)
	svc.Register(l)
	require.NoError(t, svc.Start(context.Background()))

	require.True(t, l.RecordLifecycle(true))
	assert.Eventually(t, func() bool { return l.Pending() == 0 }, time.Second, 5*time.Millisecond)

	require.True(t, l.RecordLifecycle(false))
	require.NoError(t, svc.Stop())
	assert.Equal(t, 0, l.Pending(), "Stop flushes what is left")
	assert.Contains(t, markerText(t, e), "CL")
}

func TestServiceFlushRoot(t *testing.T) {
	e := managedEngine(t, "")
	other := "/course/lab2"
	require.NoError(t, e.Fs().MkdirAll(other, 0o755))
	require.NoError(t, e.WriteEncrypted(domain.EncryptedMarkerFile(other, ""), nil))

	a := New(root, e, testOptions())
	b := New(other, e, testOptions())

	svc, err := NewService(time.Hour, time.Second)
	require.NoError(t, err)
	svc.Register(a)
	svc.Register(b)

	require.True(t, a.RecordLifecycle(true))
	require.True(t, b.RecordLifecycle(true))
	require.NoError(t, svc.FlushRoot(context.Background(), root))

	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, 1, b.Pending(), "other trees keep their records")
}
