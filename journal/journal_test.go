package journal_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lawlist/undo-tree/journal"
	"github.com/lawlist/undo-tree/journal/journaltest"
)

var bytesEq = journaltest.BytesEq

const magic = "'JOURNLAT"
const header1 = "0/ver 0/pad 0_0/flags 0../pad"
const header2 = "0*32/journal_inv 0*32/seg_inv 0...*3/reserved"

func TestJournal_trivial(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("hello")))
	ensure(j.WriteRecord(0, []byte("w")))
	j.Advance(1000 * time.Second)
	ensure(j.WriteRecord(0, []byte("orld")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	files := j.FileNames()
	deepEq(t, files, []string{"j000000000001-20240101T000000-0000000000000001.wal"})

	data := j.Data(files[0])
	hdr := journaltest.Expand(shdr("1.. 80_00_92_65 0..."))
	bytesEq(t, data[:len(hdr)], hdr)
	body := journaltest.Expand(
		"#10 #0 'hello",
		"#2 #0 'w",
		"#8 #1000 'orld",
	)
	off := len(hdr) + 8
	bytesEq(t, data[off:off+len(body)], body)
	if n, e := len(data), off+len(body)+8; n != e {
		t.Errorf("len = %d, wanted %d", n, e)
	}
	if data[len(data)-8]&1 == 0 {
		t.Errorf("commit trailer lacks commit flag")
	}

	var got []string
	ensure(j.Records(func(r journal.Record) error {
		got = append(got, string(r.Data))
		return nil
	}))
	deepEq(t, got, []string{"hello", "w", "orld"})
}

func TestJournal_last(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	if _, err := j.Last(); !errors.Is(err, journal.ErrEmpty) {
		t.Fatalf("Last on empty journal = %v, wanted ErrEmpty", err)
	}
	ensure(j.WriteRecord(0, []byte("one")))
	ensure(j.Commit())
	j.Advance(5 * time.Second)
	ensure(j.WriteRecord(0, []byte("two")))
	ensure(j.Commit())

	r := must(j.Last())
	if string(r.Data) != "two" {
		t.Errorf("Last = %q, wanted %q", r.Data, "two")
	}
	if r.ID != 2 {
		t.Errorf("Last.ID = %d, wanted 2", r.ID)
	}
	if e := journaltest.Start.Add(5 * time.Second); !r.Timestamp.Equal(e) {
		t.Errorf("Last.Timestamp = %v, wanted %v", r.Timestamp, e)
	}
}

func TestJournal_uncommittedIgnored(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("kept")))
	ensure(j.Commit())
	ensure(j.WriteRecord(0, []byte("pending")))
	ensure(j.FinishWriting())

	r := must(j.Last())
	if string(r.Data) != "kept" {
		t.Errorf("Last = %q, wanted %q", r.Data, "kept")
	}
}

func TestJournal_corruptedTail(t *testing.T) {
	dir := t.TempDir()
	j := journaltest.WritableIn(t, dir, journal.Options{})
	ensure(j.WriteRecord(0, []byte("first")))
	ensure(j.Commit())
	ensure(j.WriteRecord(0, []byte("second")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	name := j.FileNames()[0]
	full := len(j.Data(name))
	j.Corrupt(name, -3)

	r := must(j.Last())
	if string(r.Data) != "first" {
		t.Errorf("Last = %q, wanted %q", r.Data, "first")
	}

	j2 := journaltest.WritableIn(t, dir, journal.Options{})
	if n, e := len(j2.Data(name)), full-len("second")-2-8; n != e {
		t.Errorf("trimmed size = %d, wanted %d", n, e)
	}
	ensure(j2.WriteRecord(0, []byte("third")))
	ensure(j2.Commit())
	ensure(j2.FinishWriting())

	deepEq(t, len(j2.FileNames()), 2)
	var got []string
	var ids []uint64
	ensure(j2.Records(func(r journal.Record) error {
		got = append(got, string(r.Data))
		ids = append(ids, r.ID)
		return nil
	}))
	deepEq(t, got, []string{"first", "third"})
	deepEq(t, ids, []uint64{1, 2})
}

func TestJournal_corruptedHeaderDeleted(t *testing.T) {
	dir := t.TempDir()
	j := journaltest.WritableIn(t, dir, journal.Options{})
	ensure(j.WriteRecord(0, []byte("lost")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	j.Corrupt(j.FileNames()[0], 20)

	j2 := journaltest.WritableIn(t, dir, journal.Options{})
	deepEq(t, len(j2.FileNames()), 0)
	if _, err := j2.Last(); !errors.Is(err, journal.ErrEmpty) {
		t.Errorf("Last = %v, wanted ErrEmpty", err)
	}
}

func TestJournal_rotation(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{MaxFileSize: 200})
	for _, s := range []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "b", "c"} {
		ensure(j.WriteRecord(0, []byte(s)))
		ensure(j.Commit())
		j.Advance(time.Second)
	}
	ensure(j.FinishWriting())

	files := j.FileNames()
	deepEq(t, files, []string{
		"j000000000001-20240101T000000-0000000000000001.wal",
		"j000000000002-20240101T000001-0000000000000002.wal",
	})
	r := must(j.Last())
	if string(r.Data) != "c" || r.Segment != 2 || r.ID != 3 {
		t.Errorf("Last = %q seg %d id %d, wanted %q seg 2 id 3", r.Data, r.Segment, r.ID, "c")
	}
}

func TestJournal_incompatible(t *testing.T) {
	dir := t.TempDir()
	j := journaltest.WritableIn(t, dir, journal.Options{})
	ensure(j.WriteRecord(0, []byte("x")))
	ensure(j.Commit())
	ensure(j.FinishWriting())

	other := journal.New(dir, journal.Options{FileName: "j*.wal", JournalInvariant: [32]byte{1}})
	if _, err := other.Last(); !errors.Is(err, journal.ErrIncompatible) {
		t.Errorf("Last = %v, wanted ErrIncompatible", err)
	}
}

func shdr(inside string) string {
	return magic + " " + header1 + " " +
		inside + " " + header2
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
