package logsegment

import (
	"bufio"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"time"
)

// MetricsRecorder receives observations about segment I/O. Unlike the
// executor, a LogSegment has no determinism contract against a
// replicated clock, so it is free to time itself with time.Now().
type MetricsRecorder interface {
	RecordAppend(bytesWritten int)
	RecordCompaction(durationSeconds float64)
	RecordFlush()
	SetSegmentSize(bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordAppend(int)         {}
func (noopMetrics) RecordCompaction(float64) {}
func (noopMetrics) RecordFlush()             {}
func (noopMetrics) SetSegmentSize(int64)     {}

// LogSegment owns one data+index file pair covering a contiguous range
// of log indices. It is not safe for concurrent use: the single-
// threaded-cooperative model means the caller (the service thread)
// exclusively owns one LogSegment at a time.
type LogSegment struct {
	cfg    Config
	logger *slog.Logger

	dataFile *os.File
	index    *indexFile

	opened bool

	// offsets[ordinal] is the data-file byte offset of the record at
	// stored index (*firstIndex + ordinal). Re-anchored to the
	// current file's first stored index, so it stays correct across
	// compaction without needing sparse padding.
	offsets []int64

	firstIndex *uint64
	lastIndex  uint64
	size       int64

	metrics MetricsRecorder
}

// Option configures a LogSegment at construction time.
type Option func(*LogSegment)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *LogSegment) { s.logger = logger }
}

// WithMetrics attaches a MetricsRecorder. Defaults to a no-op recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *LogSegment) { s.metrics = recorder }
}

// New constructs a LogSegment bound to cfg. Call Open before use.
func New(cfg Config, opts ...Option) *LogSegment {
	s := &LogSegment{
		cfg:     cfg,
		logger:  slog.Default().With("component", "logsegment", "segment", cfg.Number),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens or creates the underlying files. If history files from an
// interrupted compaction are found, the segment is first restored from
// them (see the compaction protocol). On a non-empty segment, firstIndex
// and lastIndex are recovered by scanning the data file from the start;
// the index file is rebuilt from that scan rather than trusted as-is,
// since it may be stale after a crash mid-append.
func (s *LogSegment) Open() error {
	if s.opened {
		return &IllegalStateError{Method: "Open", Cause: ErrAlreadyOpen}
	}

	if s.cfg.Dir != "" {
		if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
			return ioErr("open", err)
		}
	}

	if err := s.recoverFromHistoryIfPresent(); err != nil {
		return ioErr("open", err)
	}

	dataFile, err := os.OpenFile(s.cfg.dataPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return ioErr("open", err)
	}
	idx, err := openIndexFile(s.cfg.indexPath())
	if err != nil {
		dataFile.Close()
		return ioErr("open", err)
	}

	offsets, firstIndex, lastIndex, size, err := scanDataFile(dataFile)
	if err != nil {
		dataFile.Close()
		idx.close()
		return ioErr("open", err)
	}

	if err := rebuildIndexFile(idx, offsets); err != nil {
		dataFile.Close()
		idx.close()
		return ioErr("open", err)
	}

	s.dataFile = dataFile
	s.index = idx
	s.offsets = offsets
	s.firstIndex = firstIndex
	s.lastIndex = lastIndex
	s.size = size
	s.opened = true

	s.logger.Debug("segment opened", "firstIndex", derefOrZero(firstIndex), "lastIndex", lastIndex, "size", size)
	return nil
}

// recoverFromHistoryIfPresent implements spec.md §9's mandated recovery
// read: if a prior compaction crashed between copying the history files
// and deleting them, the live files are whatever state the crash left
// them in (possibly the new, possibly a partial write) and the history
// files hold the authoritative pre-compaction state. Restore from
// history before anything else touches the live files.
func (s *LogSegment) recoverFromHistoryIfPresent() error {
	_, dataErr := os.Stat(s.cfg.historyDataPath())
	_, indexErr := os.Stat(s.cfg.historyIndexPath())
	if os.IsNotExist(dataErr) && os.IsNotExist(indexErr) {
		return nil
	}

	s.logger.Warn("history files found at open, restoring pre-compaction state")

	if err := os.Rename(s.cfg.historyDataPath(), s.cfg.dataPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(s.cfg.historyIndexPath(), s.cfg.indexPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// scanDataFile walks every record from the start of f, returning the
// byte offset of each active record's header (indexed by ordinal), the
// index of the first active record (nil if f holds none), the index of
// the last active record, and the total byte length scanned.
func scanDataFile(f *os.File) (offsets []int64, firstIndex *uint64, lastIndex uint64, size int64, err error) {
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, 0, 0, err
	}
	r := bufio.NewReader(f)

	var offset int64
	var first uint64
	seenActive := false

	for {
		header, herr := readHeaderAt(r)
		if herr == io.EOF {
			break
		}
		if herr != nil {
			return nil, nil, 0, 0, herr
		}

		// RemoveAfter tombstones records in place without truncating
		// the data file, and later appends land physically after the
		// tombstoned ones. Only active records get an ordinal, so
		// ordinal = index - firstIndex keeps addressing offsets[ordinal]
		// correctly across any mix of RemoveAfter, Append and restarts;
		// the tombstoned bytes stay on disk untouched.
		if header.status == active {
			if !seenActive {
				first = header.index
				seenActive = true
			}
			offsets = append(offsets, offset)
			lastIndex = header.index
		}

		if _, err = r.Discard(int(header.length)); err != nil {
			return nil, nil, 0, 0, err
		}
		offset += headerSize + int64(header.length)
	}

	if !seenActive {
		return nil, nil, 0, offset, nil
	}
	return offsets, &first, lastIndex, offset, nil
}

// rebuildIndexFile truncates ix and rewrites it from offsets, so the
// on-disk index always matches what scanDataFile just established.
func rebuildIndexFile(ix *indexFile, offsets []int64) error {
	if err := ix.truncateToCount(0); err != nil {
		return err
	}
	for _, off := range offsets {
		if err := ix.appendOffset(off); err != nil {
			return err
		}
	}
	return nil
}

func (s *LogSegment) requireOpen(method string) error {
	if !s.opened {
		return &IllegalStateError{Method: method, Cause: ErrClosed}
	}
	return nil
}

// Append writes a new ACTIVE record with stored index lastIndex+1 (or
// the configured FirstIndex if the segment is empty), returning the
// assigned index.
func (s *LogSegment) Append(payload []byte) (uint64, error) {
	if err := s.requireOpen("Append"); err != nil {
		return 0, err
	}

	var newIndex uint64
	if s.firstIndex == nil {
		newIndex = s.cfg.FirstIndex
	} else {
		newIndex = s.lastIndex + 1
	}

	if err := s.writeRecord(newIndex, active, payload); err != nil {
		return 0, ioErr("append", err)
	}

	if s.firstIndex == nil {
		first := newIndex
		s.firstIndex = &first
	}
	s.lastIndex = newIndex
	s.metrics.RecordAppend(headerSize + len(payload))
	s.metrics.SetSegmentSize(s.size)

	if s.cfg.FlushOnWrite {
		if err := s.Flush(false); err != nil {
			return newIndex, err
		}
	}
	return newIndex, nil
}

// writeRecord appends one record at the current end of the data file
// and records its offset in both the in-memory slice and the index
// file.
func (s *LogSegment) writeRecord(index uint64, st status, payload []byte) error {
	header := encodeHeader(recordHeader{index: index, status: st, length: uint32(len(payload))})
	offset := s.size

	if _, err := s.dataFile.WriteAt(header, offset); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := s.dataFile.WriteAt(payload, offset+headerSize); err != nil {
			return err
		}
	}
	if err := s.index.appendOffset(offset); err != nil {
		return err
	}

	s.offsets = append(s.offsets, offset)
	s.size = offset + headerSize + int64(len(payload))
	return nil
}

// AppendBatch appends each entry in order. Each append is atomic
// individually; if one fails, the indices successfully assigned before
// it are returned alongside the error.
func (s *LogSegment) AppendBatch(entries [][]byte) ([]uint64, error) {
	indices := make([]uint64, 0, len(entries))
	for _, e := range entries {
		idx, err := s.Append(e)
		if err != nil {
			return indices, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// Get returns the payload stored at index, or nil if index is out of
// range or was tombstoned by RemoveAfter.
func (s *LogSegment) Get(index uint64) ([]byte, error) {
	if err := s.requireOpen("Get"); err != nil {
		return nil, err
	}
	if s.firstIndex == nil || index < *s.firstIndex || index > s.lastIndex {
		return nil, nil
	}

	ordinal := index - *s.firstIndex
	if ordinal >= uint64(len(s.offsets)) {
		return nil, nil
	}

	// The offset itself comes from the on-disk index file rather than
	// s.offsets: the two are kept identical by every writer (Append,
	// RemoveAfter, Compact), so this is what makes the index file an
	// indexed-random-read path rather than write-only bookkeeping.
	// s.offsets still backs the bounds check above and the sequential
	// scans in RemoveAfter/writeTempChronicle, where an in-memory slice
	// is the natural fit.
	offset, err := s.index.offsetAt(ordinal)
	if err != nil {
		return nil, ioErr("get", err)
	}
	buf := make([]byte, headerSize)
	if _, err := s.dataFile.ReadAt(buf, offset); err != nil {
		return nil, ioErr("get", err)
	}
	header := decodeHeader(buf)

	if header.index > index {
		return nil, &MissingEntriesError{Sought: index, Found: header.index}
	}
	if header.status != active {
		return nil, nil
	}

	payload := make([]byte, header.length)
	if header.length > 0 {
		if _, err := s.dataFile.ReadAt(payload, offset+headerSize); err != nil {
			return nil, ioErr("get", err)
		}
	}
	return payload, nil
}

// GetRange collects ACTIVE records with stored index in [from, to],
// in ascending index order, skipping tombstoned holes.
func (s *LogSegment) GetRange(from, to uint64) ([][]byte, error) {
	if err := s.requireOpen("GetRange"); err != nil {
		return nil, err
	}
	var results [][]byte
	for i := from; i <= to; i++ {
		payload, err := s.Get(i)
		if err != nil {
			return results, err
		}
		if payload != nil {
			results = append(results, payload)
		}
		if i == to {
			break // guards against overflow when to == ^uint64(0)
		}
	}
	return results, nil
}

// RemoveAfter tombstones every record with stored index strictly
// greater than index and sets lastIndex := index. If index is below
// firstIndex, the entire segment is cleared.
func (s *LogSegment) RemoveAfter(index uint64) error {
	if err := s.requireOpen("RemoveAfter"); err != nil {
		return err
	}
	if s.firstIndex == nil {
		return nil
	}
	if index < *s.firstIndex {
		return s.clear()
	}

	cutoff := index - *s.firstIndex
	for ordinal := cutoff + 1; ordinal < uint64(len(s.offsets)); ordinal++ {
		if err := s.markDeleted(s.offsets[ordinal]); err != nil {
			return ioErr("removeAfter", err)
		}
	}

	s.offsets = s.offsets[:cutoff+1]
	s.lastIndex = index
	if err := s.index.truncateToCount(uint64(len(s.offsets))); err != nil {
		return ioErr("removeAfter", err)
	}
	return nil
}

func (s *LogSegment) markDeleted(offset int64) error {
	_, err := s.dataFile.WriteAt([]byte{byte(deleted)}, offset+8)
	return err
}

func (s *LogSegment) clear() error {
	s.offsets = nil
	s.firstIndex = nil
	s.lastIndex = 0
	s.size = 0
	if err := s.dataFile.Truncate(0); err != nil {
		return ioErr("removeAfter", err)
	}
	if err := s.index.truncateToCount(0); err != nil {
		return ioErr("removeAfter", err)
	}
	return nil
}

// Compact reclaims the prefix [firstIndex, index) and optionally
// replaces the entry at index, following the crash-safe swap protocol:
// write a temp chronicle, close the live handles, copy them to history,
// rename the temp files over the live ones, delete the history files,
// then reopen.
func (s *LogSegment) Compact(index uint64, replacement []byte, hasReplacement bool) error {
	if err := s.requireOpen("Compact"); err != nil {
		return err
	}
	if s.firstIndex == nil || index < *s.firstIndex || index > s.lastIndex {
		return ErrCompactIndexOutOfRange
	}
	if index == *s.firstIndex && !hasReplacement {
		return nil
	}
	started := time.Now()

	if err := s.writeTempChronicle(index, replacement, hasReplacement); err != nil {
		return ioErr("compact", err)
	}

	if err := s.dataFile.Close(); err != nil {
		return ioErr("compact", err)
	}
	if err := s.index.close(); err != nil {
		return ioErr("compact", err)
	}

	if err := copyFile(s.cfg.dataPath(), s.cfg.historyDataPath()); err != nil {
		return ioErr("compact", err)
	}
	if err := copyFile(s.cfg.indexPath(), s.cfg.historyIndexPath()); err != nil {
		return ioErr("compact", err)
	}

	if err := os.Rename(s.cfg.tempDataPath(), s.cfg.dataPath()); err != nil {
		return ioErr("compact", err)
	}
	if err := os.Rename(s.cfg.tempIndexPath(), s.cfg.indexPath()); err != nil {
		return ioErr("compact", err)
	}

	if err := os.Remove(s.cfg.historyDataPath()); err != nil && !os.IsNotExist(err) {
		return ioErr("compact", err)
	}
	if err := os.Remove(s.cfg.historyIndexPath()); err != nil && !os.IsNotExist(err) {
		return ioErr("compact", err)
	}

	dataFile, err := os.OpenFile(s.cfg.dataPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return ioErr("compact", err)
	}
	idx, err := openIndexFile(s.cfg.indexPath())
	if err != nil {
		dataFile.Close()
		return ioErr("compact", err)
	}

	offsets, firstIndex, lastIndex, size, err := scanDataFile(dataFile)
	if err != nil {
		dataFile.Close()
		idx.close()
		return ioErr("compact", err)
	}

	s.dataFile = dataFile
	s.index = idx
	s.offsets = offsets
	s.firstIndex = firstIndex
	s.lastIndex = lastIndex
	s.size = size
	s.metrics.RecordCompaction(time.Since(started).Seconds())
	s.metrics.SetSegmentSize(s.size)
	return nil
}

func (s *LogSegment) writeTempChronicle(index uint64, replacement []byte, hasReplacement bool) error {
	tmpData, err := os.OpenFile(s.cfg.tempDataPath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer tmpData.Close()
	tmpIndex, err := os.OpenFile(s.cfg.tempIndexPath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer tmpIndex.Close()

	var offset int64
	writeOne := func(idx uint64, payload []byte) error {
		header := encodeHeader(recordHeader{index: idx, status: active, length: uint32(len(payload))})
		if _, err := tmpData.WriteAt(header, offset); err != nil {
			return err
		}
		if len(payload) > 0 {
			if _, err := tmpData.WriteAt(payload, offset+headerSize); err != nil {
				return err
			}
		}
		offBuf := make([]byte, offsetSize)
		binary.BigEndian.PutUint64(offBuf, uint64(offset))
		if _, err := tmpIndex.Write(offBuf); err != nil {
			return err
		}
		offset += headerSize + int64(len(payload))
		return nil
	}

	if hasReplacement {
		if err := writeOne(index, replacement); err != nil {
			return err
		}
	}

	// cutoff is the ordinal of the record at index. When a replacement
	// is supplied it supersedes that record, so copying resumes right
	// after it; otherwise the record at index itself survives
	// compaction (spec.md reclaims the prefix [firstIndex, index), a
	// half-open range that excludes index).
	cutoff := index - *s.firstIndex
	start := cutoff
	if hasReplacement {
		start = cutoff + 1
	}
	for ordinal := start; ordinal < uint64(len(s.offsets)); ordinal++ {
		recOffset := s.offsets[ordinal]
		buf := make([]byte, headerSize)
		if _, err := s.dataFile.ReadAt(buf, recOffset); err != nil {
			return err
		}
		header := decodeHeader(buf)
		if header.status != active {
			continue
		}
		payload := make([]byte, header.length)
		if header.length > 0 {
			if _, err := s.dataFile.ReadAt(payload, recOffset+headerSize); err != nil {
				return err
			}
		}
		if err := writeOne(header.index, payload); err != nil {
			return err
		}
	}

	if err := tmpData.Sync(); err != nil {
		return err
	}
	return tmpIndex.Sync()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// Flush fsyncs the underlying files if force or the segment's
// FlushOnWrite option is set.
func (s *LogSegment) Flush(force bool) error {
	if err := s.requireOpen("Flush"); err != nil {
		return err
	}
	if !force && !s.cfg.FlushOnWrite {
		return nil
	}
	if err := s.dataFile.Sync(); err != nil {
		return ioErr("flush", err)
	}
	if err := s.index.sync(); err != nil {
		return ioErr("flush", err)
	}
	s.metrics.RecordFlush()
	return nil
}

// Close releases the underlying file handles.
func (s *LogSegment) Close() error {
	if err := s.requireOpen("Close"); err != nil {
		return err
	}
	dataErr := s.dataFile.Close()
	idxErr := s.index.close()
	s.opened = false
	if dataErr != nil {
		return ioErr("close", dataErr)
	}
	return ioErr("close", idxErr)
}

// Delete closes the segment (if open) and removes its files from
// disk, invoking the configured OnDeleted callback on success.
func (s *LogSegment) Delete() error {
	if s.opened {
		if err := s.Close(); err != nil {
			return err
		}
	}
	for _, path := range []string{
		s.cfg.dataPath(), s.cfg.indexPath(),
		s.cfg.historyDataPath(), s.cfg.historyIndexPath(),
		s.cfg.tempDataPath(), s.cfg.tempIndexPath(),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ioErr("delete", err)
		}
	}
	if s.cfg.OnDeleted != nil {
		s.cfg.OnDeleted(s.cfg.Number)
	}
	return nil
}

// FirstIndex returns the segment's base index and whether the segment
// has ever held a record.
func (s *LogSegment) FirstIndex() (uint64, bool) {
	if s.firstIndex == nil {
		return 0, false
	}
	return *s.firstIndex, true
}

// LastIndex returns the index of the most recent non-tombstoned
// append.
func (s *LogSegment) LastIndex() uint64 {
	return s.lastIndex
}

// Size returns the total bytes written to the data file.
func (s *LogSegment) Size() int64 {
	return s.size
}

// IsEmpty reports whether the segment holds no records. The reference
// implementation's isEmpty() returned size() > 0, which is inverted;
// this corrects it to size() == 0.
func (s *LogSegment) IsEmpty() bool {
	return s.size == 0
}

func derefOrZero(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
