// Package snapshot performs the bounded content read behind every
// entropy analysis: up to three sampled segments of a file plus type
// detection, timestamps and content digests. Reads never pull more
// than a few kilobytes no matter how large the file is.
package snapshot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/djherbis/times"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"

	"vigil/entropy"
	"vigil/fuzzy"
)

var openMmapReader = mmap.Open

// filetype's longest magic signature.
const headerBytes = 261

// Snapshot is one sampled view of a file's content.
type Snapshot struct {
	Path        string
	Size        int64
	SegmentSize int
	// Data holds the sampled bytes: the whole file when it fits in
	// three segments, otherwise the first, middle and last segment
	// concatenated in order.
	Data   []byte
	Sparse bool

	Header      []byte
	MIME        string
	DetectedExt string

	ModTime    time.Time
	ChangeTime time.Time
	BirthTime  time.Time

	Blake3 string
	XXH64  string
	TLSH   string
}

// Reader reads snapshots. Files at or above MmapMinSize are mapped
// rather than read through the page cache twice; failures fall back to
// plain reads.
type Reader struct {
	MmapMinSize int64

	similarity fuzzy.Hasher
}

func NewReader(mmapMinSize int64) *Reader {
	if mmapMinSize <= 0 {
		mmapMinSize = 128 * 1024
	}
	sim, _ := fuzzy.Lookup("tlsh")
	return &Reader{MmapMinSize: mmapMinSize, similarity: sim}
}

// Read samples path. Missing, empty or unreadable files return an
// error wrapping entropy.ErrAnalysisUnavailable so callers can treat
// the sample as absent.
func (r *Reader) Read(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", entropy.ErrAnalysisUnavailable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", entropy.ErrAnalysisUnavailable, path)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s is empty", entropy.ErrAnalysisUnavailable, path)
	}

	segSize := entropy.SegmentSize(size)
	s := &Snapshot{
		Path:        path,
		Size:        size,
		SegmentSize: segSize,
		ModTime:     info.ModTime(),
	}

	if size <= int64(3*segSize) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", entropy.ErrAnalysisUnavailable, path, err)
		}
		s.Data = data
	} else {
		s.Sparse = true
		offsets := []int64{0, size/2 - int64(segSize)/2, size - int64(segSize)}
		data, err := r.readSegments(path, size, offsets, segSize)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %s: %v", entropy.ErrAnalysisUnavailable, path, err)
		}
		s.Data = data
	}
	if len(s.Data) == 0 {
		return nil, fmt.Errorf("%w: %s vanished during read", entropy.ErrAnalysisUnavailable, path)
	}

	s.Header = s.Data
	if len(s.Header) > headerBytes {
		s.Header = s.Data[:headerBytes]
	}
	if kind, err := filetype.Match(s.Header); err == nil && kind != types.Unknown {
		s.DetectedExt = kind.Extension
		s.MIME = kind.MIME.Value
	}

	if ts, err := times.Stat(path); err == nil {
		if ts.HasChangeTime() {
			s.ChangeTime = ts.ChangeTime()
		}
		if ts.HasBirthTime() {
			s.BirthTime = ts.BirthTime()
		}
	}

	sum := blake3.Sum256(s.Data)
	s.Blake3 = hex.EncodeToString(sum[:])
	s.XXH64 = strconv.FormatUint(xxhash.Sum64(s.Data), 16)
	if r.similarity != nil {
		if h, err := r.similarity.HashBytes(s.Data); err == nil {
			s.TLSH = h
		}
	}
	return s, nil
}

// readSegments reads segSize bytes at each offset into one contiguous
// buffer, via mmap for large files.
func (r *Reader) readSegments(path string, size int64, offsets []int64, segSize int) ([]byte, error) {
	var ra io.ReaderAt
	var closer io.Closer

	if size >= r.MmapMinSize {
		if mr, err := openMmapReader(path); err == nil {
			ra, closer = mr, mr
		}
	}
	if ra == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		ra, closer = f, f
	}
	defer closer.Close()

	buf := make([]byte, 0, len(offsets)*segSize)
	seg := make([]byte, segSize)
	for _, off := range offsets {
		n, err := ra.ReadAt(seg, off)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n < segSize {
			// The file shrank under us; a partial sample would skew
			// the segment statistics.
			return nil, fmt.Errorf("short read at offset %d: %d of %d bytes", off, n, segSize)
		}
		buf = append(buf, seg[:n]...)
	}
	return buf, nil
}
