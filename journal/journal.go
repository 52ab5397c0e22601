// Package journal implements append-only history files: rotated segment
// files holding checksummed records.
//
// Records are grouped into transactions. A transaction becomes durable once
// Commit has written its trailer; a reader never returns records of a
// transaction whose trailer is missing or fails the checksum, and a writer
// reopening the journal trims such a tail away.
//
// Segment files are named prefix + seq-timestamp-firstrecord + suffix, so
// lexical order is segment order. A new segment is started when the current
// one grows beyond MaxFileSize, and every time the journal is reopened for
// writing.
//
// # File format
//
//   - file = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 seq:32 ts:32 prevChecksum:64 journalInvariant:256 segmentInvariant:256 reserved:64*3 checksum:64
//   - record = size<<1:uvarint tsDelta:uvarint bytes*
//   - commit = (runningChecksum | 1):64
//
// The running checksum is an xxhash of every byte of the segment that
// precedes the commit trailer.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrEmpty              = errors.New("journal has no committed records")
	errCorruptedFile      = errors.New("corrupted journal segment file")
)

type Options struct {
	Context          context.Context
	FileName         string // e.g. "history-*.jrnl"
	MaxFileSize      int64  // new segment after this size
	DebugName        string
	Now              func() time.Time
	JournalInvariant [32]byte
	SegmentInvariant [32]byte

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 16 * 8

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	JournalInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

// Record is one committed record read back from the journal.
type Record struct {
	ID        uint64
	Segment   uint32
	Timestamp time.Time
	Data      []byte
}

// Journal is a directory of segment files. Writing is serialized by an
// internal lock; reading works on a journal that is not open for writing.
type Journal struct {
	context          context.Context
	maxFileSize      int64
	fileNamePrefix   string
	fileNameSuffix   string
	debugName        string
	dir              string
	now              func() time.Time
	logger           *slog.Logger
	verbose          bool
	journalInvariant [32]byte
	segmentInvariant [32]byte

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		context:          o.Context,
		maxFileSize:      o.MaxFileSize,
		fileNamePrefix:   prefix,
		fileNameSuffix:   suffix,
		debugName:        o.DebugName,
		dir:              dir,
		now:              o.Now,
		verbose:          o.Verbose,
		journalInvariant: o.JournalInvariant,
		segmentInvariant: o.SegmentInvariant,
		logger:           o.Logger,
	}
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

// StartWriting opens the journal for appending. It validates the last
// segment, deleting it if its header is corrupted and trimming any
// uncommitted or corrupted tail.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.writable {
		return nil
	}
	if err := j.prepareToWrite_locked(); err != nil {
		return j.fail(err)
	}
	j.writable = true
	return nil
}

func (j *Journal) prepareToWrite_locked() error {
	ds, err := os.Stat(j.dir)
	if err != nil {
		return err
	}
	if !ds.IsDir() {
		return fmt.Errorf("%v: not a directory", j.debugName)
	}

	for {
		names, err := j.Segments()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		lastName := names[len(names)-1]
		seq, _, firstRec, err := parseSegmentName(strings.TrimSuffix(strings.TrimPrefix(lastName, j.fileNamePrefix), j.fileNameSuffix))
		if err != nil {
			return err
		}

		res, err := j.scanSegment(lastName, seq, firstRec, nil)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int64("size", res.fileSize))
			if err := os.Remove(filepath.Join(j.dir, lastName)); err != nil {
				return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
			}
			continue
		} else if err != nil {
			return err
		}
		if res.goodSize < res.fileSize {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming uncommitted tail", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int64("size", res.fileSize), slog.Int64("trimmed", res.fileSize-res.goodSize))
			if err := os.Truncate(filepath.Join(j.dir, lastName), res.goodSize); err != nil {
				return err
			}
		}
		j.writeSeg = seq
		j.writeRec = res.lastRec
		return nil
	}
}

// FinishWriting closes the segment being written. Uncommitted records are
// lost.
func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	j.finishWriting_locked()
	return j.writeErr
}

func (j *Journal) finishWriting_locked() {
	j.writable = false
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
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

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	} else {
		return os.Open(fn)
	}
}

// Segments returns the segment file names in order.
func (j *Journal) Segments() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, j.fileNamePrefix) || !strings.HasSuffix(name, j.fileNameSuffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// WriteRecord appends a record to the current transaction. A zero timestamp
// means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		panic("journal is opened as read-only")
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		j.writeSeg++

		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
	}

	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit makes the records written since the previous commit durable, and
// rotates to a new segment if the current one has grown too large.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	sw := j.segWriter
	if sw == nil {
		return nil
	}
	if err := sw.commit(); err != nil {
		return j.fail(err)
	}
	if sw.size >= j.maxFileSize {
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: rotating", slog.String("jrnl", j.debugName), slog.Uint64("seg", uint64(sw.seg)), slog.Int64("size", sw.size))
		}
		sw.close()
		j.segWriter = nil
	}
	return nil
}

// Records calls fn for every committed record, oldest first. A corrupted
// segment ends the walk through that segment.
func (j *Journal) Records(fn func(Record) error) error {
	names, err := j.Segments()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := j.context.Err(); err != nil {
			return err
		}
		seq, _, firstRec, err := parseSegmentName(strings.TrimSuffix(strings.TrimPrefix(name, j.fileNamePrefix), j.fileNameSuffix))
		if err != nil {
			return err
		}
		res, err := j.scanSegment(name, seq, firstRec, fn)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: skipping corrupted file", slog.String("jrnl", j.debugName), slog.String("file", name))
			continue
		} else if err != nil {
			return err
		}
		if res.goodSize < res.fileSize {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: ignoring uncommitted tail", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Int64("bytes", res.fileSize-res.goodSize))
		}
	}
	return nil
}

// Last returns the most recently committed record, or ErrEmpty.
func (j *Journal) Last() (Record, error) {
	var last Record
	var found bool
	err := j.Records(func(r Record) error {
		last, found = r, true
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrEmpty
	}
	return last, nil
}

type scanResult struct {
	fileSize int64
	goodSize int64
	lastRec  uint64
}

// scanSegment verifies a segment and reports its committed records to fn,
// if not nil. errCorruptedFile means the header itself is unusable.
func (j *Journal) scanSegment(name string, seq uint32, firstRec uint64, fn func(Record) error) (scanResult, error) {
	var res scanResult
	f, err := j.openFile(name, false)
	if err != nil {
		return res, err
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return res, err
	}
	res.fileSize = int64(len(data))
	res.lastRec = firstRec - 1

	var h segmentHeader
	if err := j.checkHeader(data, &h, seq); err != nil {
		return res, err
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])

	off := segmentHeaderSize
	res.goodSize = int64(off)
	ts := h.Timestamp
	rec := firstRec - 1
	var pending []Record
	for off < len(data) {
		if data[off]&recordFlagCommit != 0 {
			if off+8 > len(data) {
				break
			}
			if binary.LittleEndian.Uint64(data[off:]) != hash.Sum64()|uint64(recordFlagCommit) {
				break
			}
			hash.Write(data[off : off+8])
			off += 8
			res.goodSize = int64(off)
			res.lastRec = rec
			if fn != nil {
				for _, r := range pending {
					if err := fn(r); err != nil {
						return res, err
					}
				}
			}
			pending = pending[:0]
			continue
		}

		start := off
		sizeAndFlags, n := binary.Uvarint(data[off:])
		if n <= 0 {
			break
		}
		off += n
		tsDelta, n := binary.Uvarint(data[off:])
		if n <= 0 || tsDelta > 0xFFFF_FFFF {
			break
		}
		off += n
		size := sizeAndFlags >> recordFlagShift
		if size > uint64(len(data)-off) {
			break
		}
		hash.Write(data[start : off+int(size)])
		ts += uint32(tsDelta)
		rec++
		pending = append(pending, Record{
			ID:        rec,
			Segment:   seq,
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Data:      data[off : off+int(size)],
		})
		off += int(size)
	}
	return res, nil
}

func (j *Journal) checkHeader(data []byte, h *segmentHeader, expectedSeq uint32) error {
	if len(data) < segmentHeaderSize {
		return errCorruptedFile
	}
	buf := data[:segmentHeaderSize]
	n, err := binary.Decode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return errCorruptedFile
	}
	checksum := xxhash.Sum64(buf[:segmentHeaderSize-8])
	if checksum != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.JournalInvariant != j.journalInvariant {
		return ErrIncompatible
	}
	return nil
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	if _, err := sw.f.Write(h); err != nil {
		return err
	}

	sw.hash.Write(data)
	if _, err := sw.f.Write(data); err != nil {
		return err
	}
	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sw.hash.Sum64())
	buf[0] |= recordFlagCommit

	sw.hash.Write(buf[:])
	if _, err := sw.f.Write(buf[:]); err != nil {
		return err
	}
	sw.size += int64(len(buf))
	return sw.f.Sync()
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		JournalInvariant: j.journalInvariant,
		SegmentInvariant: j.segmentInvariant,
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
