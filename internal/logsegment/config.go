package logsegment

import (
	"fmt"
	"path/filepath"
)

// Config describes where a segment's files live on disk and how it
// should behave on write.
//
// Segments deliberately hold no reference back to a parent log: the
// Java reference's ChronicleLogSegment kept a pointer to its owning
// ChronicleLog so it could ask "am I the active segment" during
// deletion bookkeeping. That cyclic reference is replaced here with a
// plain OnDeleted callback the owner supplies at construction time, so
// a *LogSegment never needs to know about whatever manages it.
type Config struct {
	// Dir is the directory the data and index files live under.
	Dir string
	// Base is the parent log's base name, "B" in the "B-S.log" naming
	// scheme.
	Base string
	// Number is the segment's ordinal within its parent log ("S").
	Number uint64
	// FirstIndex seeds the segment's base log index when it is opened
	// empty for the first time.
	FirstIndex uint64
	// FlushOnWrite, when true, fsyncs the data and index files after
	// every Append/AppendBatch. When false the caller is responsible
	// for calling Flush explicitly (e.g. on a timer).
	FlushOnWrite bool
	// OnDeleted, if set, is invoked after Delete successfully removes
	// the segment's files on disk.
	OnDeleted func(number uint64)
}

func (c Config) stem() string {
	return fmt.Sprintf("%s-%d", c.Base, c.Number)
}

func (c Config) dataPath() string {
	return filepath.Join(c.Dir, c.stem()+".log")
}

func (c Config) indexPath() string {
	return filepath.Join(c.Dir, c.stem()+".index")
}

func (c Config) historyDataPath() string {
	return filepath.Join(c.Dir, c.stem()+".history.log")
}

func (c Config) historyIndexPath() string {
	return filepath.Join(c.Dir, c.stem()+".history.index")
}

func (c Config) tempDataPath() string {
	return filepath.Join(c.Dir, c.stem()+".tmp.log")
}

func (c Config) tempIndexPath() string {
	return filepath.Join(c.Dir, c.stem()+".tmp.index")
}
