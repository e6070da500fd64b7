// Package journaltest provides helpers for tests that write or read journals.
package journaltest

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/memdb/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type TestJournal struct {
	*journal.Journal

	T    testing.TB
	Dir  string
	Path string

	now time.Time
}

// Writable returns a journal in a fresh temp dir, already open for writing
// and closed when the test ends. The file lives in a nested directory that
// does not exist yet, so StartWriting has to create it.
func Writable(t testing.TB, o journal.Options) *TestJournal {
	t.Helper()
	dir := t.TempDir()
	j := &TestJournal{
		T:    t,
		Dir:  dir,
		Path: filepath.Join(dir, "logs", "tx.log"),
		now:  Start,
	}
	o.Now = func() time.Time { return j.now }
	if o.Logger == nil {
		o.Logger = Logger(t)
	}
	o.Verbose = true

	j.Journal = journal.New(j.Path, o)
	if err := j.StartWriting(); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}
	t.Cleanup(func() {
		if err := j.FinishWriting(); err != nil {
			t.Error(err)
		}
	})
	return j
}

// Logger returns a debug-level slog logger that writes into t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

// Lines returns the file's content split into lines, without terminators.
func (j *TestJournal) Lines() []string {
	j.T.Helper()
	return ReadLines(j.T, j.Path)
}

func (j *TestJournal) Data() []byte {
	j.T.Helper()
	b, err := os.ReadFile(j.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", j.Path, err)
	}
	return b
}

func (j *TestJournal) Now() time.Time {
	return j.now
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

// ReadLines reads a journal file and splits it into lines.
func ReadLines(t testing.TB, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("when reading %v: %v", path, err)
	}
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Put writes raw journal content, creating parent directories.
func Put(t testing.TB, path string, lines ...string) {
	t.Helper()
	ensure(os.MkdirAll(filepath.Dir(path), 0o755))
	ensure(os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644))
}

// Records reads every record from the journal at path.
func Records(t testing.TB, path string) []string {
	t.Helper()
	r, err := journal.Open(path, journal.Options{Logger: Logger(t)})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer r.Close()

	var result []string
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return result
			}
			t.Fatalf("Next: %v", err)
		}
		result = append(result, string(rec))
	}
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
