package undotree

import (
	"errors"
	"testing"

	"github.com/lawlist/undo-tree/journal"
	"github.com/lawlist/undo-tree/journal/journaltest"
)

func TestSnapshot_LatestWins(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	env := setup(t, "", Options{DocumentID: "doc"})
	env.typeText("a")
	env.ok(AppendSnapshot(j.Journal, env.Tree))
	env.typeText("b")
	env.ok(AppendSnapshot(j.Journal, env.Tree))

	tr, err := LoadLatestSnapshot(j.Journal, env.Buf, Options{Logger: testLogger(t)})
	env.ok(err)
	if diff := shapeDiff(env.Tree, tr); diff != "" {
		t.Fatalf("snapshot differs:\n%s", diff)
	}
}

func TestSnapshot_FiltersByDocument(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	one := setup(t, "", Options{DocumentID: "one"})
	two := setup(t, "", Options{DocumentID: "two"})
	one.typeText("1")
	two.typeText("2")
	one.ok(AppendSnapshot(j.Journal, one.Tree))
	two.ok(AppendSnapshot(j.Journal, two.Tree))
	if err := j.WriteRecord(0, []byte("not a history")); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(); err != nil {
		t.Fatal(err)
	}

	tr, err := LoadLatestSnapshot(j.Journal, one.Buf, Options{DocumentID: "one"})
	one.ok(err)
	deepEqual(t, tr.DocumentID(), "one")
	if diff := shapeDiff(one.Tree, tr); diff != "" {
		t.Fatalf("snapshot differs:\n%s", diff)
	}

	_, err = LoadLatestSnapshot(j.Journal, one.Buf, Options{DocumentID: "three"})
	isErr(t, err, ErrNotFound)

	// without a filter the newest history is "two", which does not match one.Buf
	_, err = LoadLatestSnapshot(j.Journal, one.Buf, Options{})
	isErr(t, err, ErrValidation)
}

func TestSnapshot_Empty(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	_, err := LoadLatestSnapshot(j.Journal, NewBuffer(""), Options{})
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, journal.ErrEmpty) {
		t.Fatalf("err = %v, wanted ErrNotFound and journal.ErrEmpty", err)
	}
}

func TestSnapshot_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	env := setup(t, "", Options{DocumentID: "doc"})
	env.typeText("hello")
	{
		j := journaltest.WritableIn(t, dir, journal.Options{})
		env.ok(AppendSnapshot(j.Journal, env.Tree))
		env.ok(j.FinishWriting())
	}
	j := journaltest.WritableIn(t, dir, journal.Options{})
	tr, err := LoadLatestSnapshot(j.Journal, env.Buf, Options{})
	env.ok(err)
	deepEqual(t, tr.Count(), 2)
}
