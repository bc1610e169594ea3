package logsegment

import (
	"encoding/binary"
	"io"
	"os"
)

// offsetSize is the width of one index-file entry: a big-endian byte
// offset into the data file where the corresponding record's header
// begins.
const offsetSize = 8

// indexFile is a thin wrapper around the on-disk array of data-file
// offsets, one 8-byte big-endian entry per stored record, ordered by
// ordinal (storedIndex - firstStoredIndex for the current file).
type indexFile struct {
	f *os.File
}

func openIndexFile(path string) (*indexFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &indexFile{f: f}, nil
}

// appendOffset writes the next sequential entry at the end of the
// index file.
func (ix *indexFile) appendOffset(dataOffset int64) error {
	buf := make([]byte, offsetSize)
	binary.BigEndian.PutUint64(buf, uint64(dataOffset))
	if _, err := ix.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	_, err := ix.f.Write(buf)
	return err
}

// offsetAt returns the data-file offset stored at the given ordinal.
func (ix *indexFile) offsetAt(ordinal uint64) (int64, error) {
	buf := make([]byte, offsetSize)
	if _, err := ix.f.ReadAt(buf, int64(ordinal)*offsetSize); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

// count returns the number of entries currently stored in the index
// file, derived from its size.
func (ix *indexFile) count() (uint64, error) {
	info, err := ix.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()) / offsetSize, nil
}

// truncateToCount shrinks the index file so it holds exactly n
// entries, used by removeAfter to drop offsets for tombstoned records.
func (ix *indexFile) truncateToCount(n uint64) error {
	return ix.f.Truncate(int64(n) * offsetSize)
}

func (ix *indexFile) sync() error {
	return ix.f.Sync()
}

func (ix *indexFile) close() error {
	return ix.f.Close()
}
