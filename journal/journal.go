// Package journal implements append-only, line-oriented journal files.
//
// Intended use cases:
//
//  1. Transaction logs that are replayed on startup.
//  2. Log files of various kinds.
//
// Each record is one line: the record bytes followed by '\n'. Records must not
// contain '\n' themselves (JSON encoders never emit raw newlines). A file is
// never rewritten in place; records are only ever appended.
//
// A process that crashes in the middle of a write can leave a final record
// without its terminating newline. Readers skip such a torn record and log a
// warning; the next writer trims it before appending.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrNotWritable   = errors.New("journal is not open for writing")
	ErrInvalidRecord = errors.New("invalid journal record")
)

type Options struct {
	Context   context.Context
	DebugName string
	Now       func() time.Time

	// Sync requests an fdatasync after every record. Without it, records are
	// only synced by an explicit Commit.
	Sync bool

	// Perm is used when creating the file. Defaults to 0o644.
	Perm os.FileMode

	Logger  *slog.Logger
	Verbose bool
}

func (o *Options) setDefaults(path string) {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DebugName == "" {
		o.DebugName = filepath.Base(path)
	}
	if o.Perm == 0 {
		o.Perm = 0o644
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Journal appends records to a single file. It is safe for concurrent use;
// records from concurrent writers never interleave.
type Journal struct {
	context   context.Context
	path      string
	debugName string
	now       func() time.Time
	logger    *slog.Logger
	sync      bool
	perm      os.FileMode
	verbose   bool

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	f         *os.File
	records   uint64
	size      int64
	lastWrite time.Time
}

func New(path string, o Options) *Journal {
	o.setDefaults(path)
	return &Journal{
		context:   o.Context,
		path:      path,
		debugName: o.DebugName,
		now:       o.Now,
		logger:    o.Logger,
		sync:      o.Sync,
		perm:      o.Perm,
		verbose:   o.Verbose,
	}
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Path() string {
	return j.path
}

// StartWriting creates missing parent directories and opens the file for
// appending. Calling it on a journal that is already writable is a no-op.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writable {
		return nil
	}
	if j.writeErr != nil {
		return j.writeErr
	}
	return j.fail(j.prepareToWrite_locked())
}

func (j *Journal) prepareToWrite_locked() error {
	if dir := filepath.Dir(j.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%v: %w", j.debugName, err)
		}
	}

	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, j.perm)
	if err != nil {
		return fmt.Errorf("%v: %w", j.debugName, err)
	}

	var ok bool
	defer closeUnlessOK(f, &ok)

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%v: %w", j.debugName, err)
	}
	if !stat.Mode().IsRegular() {
		return fmt.Errorf("%v: not a regular file", j.debugName)
	}

	size := stat.Size()
	if size > 0 {
		end, err := lastRecordEnd(f, size)
		if err != nil {
			return fmt.Errorf("%v: %w", j.debugName, err)
		}
		if end != size {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming torn record", slog.String("jrnl", j.debugName), slog.Int64("size", size), slog.Int64("trimmed", size-end))
			if err := f.Truncate(end); err != nil {
				return fmt.Errorf("%v: %w", j.debugName, err)
			}
			size = end
		}
	}

	j.f = f
	j.size = size
	j.writable = true
	ok = true
	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: writing", slog.String("jrnl", j.debugName), slog.String("path", j.path), slog.Int64("size", size))
	}
	return nil
}

// lastRecordEnd returns the offset just past the last '\n' in the file,
// or 0 if there is none.
func lastRecordEnd(f *os.File, size int64) (int64, error) {
	var buf [4096]byte
	end := size
	for end > 0 {
		n := int64(len(buf))
		if n > end {
			n = end
		}
		chunk := buf[:n]
		if _, err := f.ReadAt(chunk, end-n); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return end - n + int64(i) + 1, nil
		}
		end -= n
	}
	return 0, nil
}

// FinishWriting syncs and closes the file. The journal can be reopened with
// StartWriting afterwards.
func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.finishWriting_locked()
}

func (j *Journal) finishWriting_locked() error {
	j.writable = false
	if j.f == nil {
		return nil
	}
	err := fdatasync(j.f)
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f = nil
	return err
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.finishWriting_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// Err returns the sticky error that stopped the journal, if any.
func (j *Journal) Err() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.writeErr
}

// WriteRecord appends one record. The record and its newline are written with
// a single write call.
func (j *Journal) WriteRecord(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("%v: %w: record contains a newline", j.debugName, ErrInvalidRecord)
	}

	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return fmt.Errorf("%v: %w", j.debugName, ErrNotWritable)
	}

	n, err := j.f.Write(line)
	j.size += int64(n)
	if err != nil {
		return j.fail(fmt.Errorf("%v: %w", j.debugName, err))
	}
	j.records++
	j.lastWrite = j.now()

	if j.sync {
		return j.fail(j.commit_locked())
	}
	return nil
}

// Commit makes all written records durable.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.f == nil {
		return nil
	}
	return j.fail(j.commit_locked())
}

func (j *Journal) commit_locked() error {
	if err := fdatasync(j.f); err != nil {
		return fmt.Errorf("%v: sync: %w", j.debugName, err)
	}
	return nil
}

type Stats struct {
	Records   uint64
	Size      int64
	LastWrite time.Time
}

// Stats reports the records written by this Journal value and the current
// file size.
func (j *Journal) Stats() Stats {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return Stats{Records: j.records, Size: j.size, LastWrite: j.lastWrite}
}

func closeUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
}

// Reader reads records sequentially, in file order.
type Reader struct {
	context   context.Context
	debugName string
	logger    *slog.Logger
	f         *os.File
	r         *bufReader
	line      int
}

// Open opens an existing journal for reading. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Open(path string, o Options) (*Reader, error) {
	o.setDefaults(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		context:   o.Context,
		debugName: o.DebugName,
		logger:    o.Logger,
		f:         f,
		r:         newBufReader(f),
	}, nil
}

// Line returns the 1-based line number of the record last returned by Next.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next record, or io.EOF after the last one. The returned
// slice is only valid until the next call.
func (r *Reader) Next() ([]byte, error) {
	for {
		if err := r.context.Err(); err != nil {
			return nil, err
		}
		data, err := r.r.readLine()
		if err == io.EOF {
			if len(data) > 0 {
				r.logger.LogAttrs(r.context, slog.LevelWarn, "journal: skipping torn record", slog.String("jrnl", r.debugName), slog.Int("line", r.line+1), slog.Int("size", len(data)))
			}
			return nil, io.EOF
		} else if err != nil {
			return nil, fmt.Errorf("%v: line %d: %w", r.debugName, r.line+1, err)
		}
		r.line++
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (r *Reader) Close() error {
	return r.f.Close()
}
