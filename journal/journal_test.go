package journal_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/memdb/journal"
	"github.com/andreyvit/memdb/journal/journaltest"
)

func TestJournal_trivial(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord([]byte(`{"a":1}`)))
	require.NoError(t, j.WriteRecord([]byte(`{"b":2}`)))
	j.Advance(1000 * time.Second)
	require.NoError(t, j.WriteRecord([]byte(`{"c":3}`)))
	require.NoError(t, j.Commit())

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, j.Lines())

	st := j.Stats()
	assert.Equal(t, uint64(3), st.Records)
	assert.Equal(t, int64(24), st.Size)
	assert.Equal(t, journaltest.Start.Add(1000*time.Second), st.LastWrite)
}

func TestJournal_appendsToExistingFile(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord([]byte("one")))
	require.NoError(t, j.FinishWriting())

	j2 := journal.New(j.Path, journal.Options{Logger: journaltest.Logger(t), Sync: true})
	require.NoError(t, j2.StartWriting())
	require.NoError(t, j2.WriteRecord([]byte("two")))
	require.NoError(t, j2.FinishWriting())

	assert.Equal(t, []string{"one", "two"}, j.Lines())
}

func TestJournal_emptyRecordIsIgnored(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(nil))
	assert.Nil(t, j.Lines())
}

func TestJournal_rejectsNewlines(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	err := j.WriteRecord([]byte("a\nb"))
	assert.True(t, errors.Is(err, journal.ErrInvalidRecord))

	// not sticky
	require.NoError(t, j.WriteRecord([]byte("ok")))
	assert.Equal(t, []string{"ok"}, j.Lines())
}

func TestJournal_notWritable(t *testing.T) {
	j := journal.New(filepath.Join(t.TempDir(), "tx.log"), journal.Options{Logger: journaltest.Logger(t)})
	err := j.WriteRecord([]byte("x"))
	assert.True(t, errors.Is(err, journal.ErrNotWritable))
	assert.NoError(t, j.Commit())
	assert.NoError(t, j.FinishWriting())
}

func TestJournal_startWritingFailsOnDirectoryConflict(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	j := journal.New(filepath.Join(blocker, "tx.log"), journal.Options{Logger: journaltest.Logger(t)})
	err := j.StartWriting()
	require.Error(t, err)

	// sticky
	assert.Equal(t, err, j.Err())
	assert.Equal(t, err, j.StartWriting())
	assert.Equal(t, err, j.WriteRecord([]byte("x")))
}

func TestJournal_trimsTornRecordBeforeAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	journaltest.Put(t, path, "one\n", `{"torn":`)

	j := journal.New(path, journal.Options{Logger: journaltest.Logger(t)})
	require.NoError(t, j.StartWriting())
	require.NoError(t, j.WriteRecord([]byte("two")))
	require.NoError(t, j.FinishWriting())

	assert.Equal(t, []string{"one", "two"}, journaltest.ReadLines(t, path))
}

func TestJournal_trimsFileWithoutAnyNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	journaltest.Put(t, path, "garbage")

	j := journal.New(path, journal.Options{Logger: journaltest.Logger(t)})
	require.NoError(t, j.StartWriting())
	require.NoError(t, j.WriteRecord([]byte("first")))
	require.NoError(t, j.FinishWriting())

	assert.Equal(t, []string{"first"}, journaltest.ReadLines(t, path))
}

func TestJournal_concurrentWritersDoNotInterleave(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	const writers, perWriter = 8, 50
	record := strings.Repeat("x", 1000)

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				assert.NoError(t, j.WriteRecord([]byte(record)))
			}
		}()
	}
	wg.Wait()

	lines := j.Lines()
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.Equal(t, record, line)
	}
}

func TestReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	long := strings.Repeat("y", 200*1024)
	journaltest.Put(t, path, "a\n", "\n", "  \n", "b\r\n", long+"\n", "torn")

	assert.Equal(t, []string{"a", "b", long}, journaltest.Records(t, path))
}

func TestReader_lineNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	journaltest.Put(t, path, "a\n", "\n", "b\n")

	r, err := journal.Open(path, journal.Options{Logger: journaltest.Logger(t)})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Line())

	_, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Line())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_missingFile(t *testing.T) {
	_, err := journal.Open(filepath.Join(t.TempDir(), "nope.log"), journal.Options{})
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestReader_cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.log")
	journaltest.Put(t, path, "a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := journal.Open(path, journal.Options{Context: ctx, Logger: journaltest.Logger(t)})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, context.Canceled))
}
