package undotree

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setupStore(t testing.TB, backend string) *Store {
	t.Helper()
	opt := StoreOptions{
		Logger:    testLogger(t),
		Verbose:   true,
		IsTesting: true,
		Now:       func() time.Time { return testStart },
	}
	switch backend {
	case "mem":
		s := OpenMemStore(opt)
		t.Cleanup(func() { s.Close() })
		return s
	case "bolt":
		path := filepath.Join(t.TempDir(), "histories.db")
		t.Logf("DB: %s", path)
		s := must(OpenStore(path, opt))
		t.Cleanup(func() { s.Close() })
		return s
	default:
		panic("unknown backend " + backend)
	}
}

func forEachBackend(t *testing.T, f func(t *testing.T, s *Store)) {
	for _, backend := range []string{"mem", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			f(t, setupStore(t, backend))
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		env := setupBranchy(t)
		meta, err := s.Save(env.Tree)
		env.ok(err)
		deepEqual(t, meta.ID, "doc-1")
		deepEqual(t, meta.Nodes, env.Tree.Count())
		deepEqual(t, meta.SavedAt, testStart)

		loaded, err := s.Load("doc-1", env.Buf, Options{Logger: testLogger(t)})
		env.ok(err)
		if diff := shapeDiff(env.Tree, loaded); diff != "" {
			t.Fatalf("loaded tree differs:\n%s", diff)
		}

		got, err := s.Meta("doc-1")
		env.ok(err)
		if !got.SavedAt.Equal(meta.SavedAt) {
			t.Fatalf("SavedAt = %v, wanted %v", got.SavedAt, meta.SavedAt)
		}
		got.SavedAt = meta.SavedAt
		deepEqual(t, *got, *meta)
		if s.ReadCount.Load() == 0 || s.WriteCount.Load() == 0 {
			t.Fatalf("ReadCount = %d, WriteCount = %d, wanted both > 0", s.ReadCount.Load(), s.WriteCount.Load())
		}
	})
}

func TestStore_SaveReplaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		env := setup(t, "", Options{DocumentID: "doc"})
		env.typeText("a")
		env.ok(second(s.Save(env.Tree)))
		env.typeText("b")
		env.ok(second(s.Save(env.Tree)))

		n, err := s.Count()
		env.ok(err)
		deepEqual(t, n, 1)

		loaded, err := s.Load("doc", env.Buf, Options{})
		env.ok(err)
		deepEqual(t, loaded.Count(), 3)
	})
}

func TestStore_ListDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		for _, id := range []string{"b", "a", "c"} {
			env := setup(t, id, Options{DocumentID: id})
			env.typeText("!")
			env.ok(second(s.Save(env.Tree)))
		}
		list, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, h := range list {
			got = append(got, h.ID)
		}
		deepEqual(t, got, []string{"a", "b", "c"})

		if err := s.Delete("b"); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("b"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second Delete err = %v, wanted ErrNotFound", err)
		}
		n, err := s.Count()
		if err != nil {
			t.Fatal(err)
		}
		deepEqual(t, n, 2)
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		_, err := s.Raw("missing")
		isErr(t, err, ErrNotFound)
		_, err = s.Meta("missing")
		isErr(t, err, ErrNotFound)
		_, err = s.Load("missing", NewBuffer(""), Options{})
		isErr(t, err, ErrNotFound)
	})
}

func TestStore_LoadRejectsChangedDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		env := setup(t, "", Options{DocumentID: "doc"})
		env.typeText("a")
		env.ok(second(s.Save(env.Tree)))
		_, err := s.Load("doc", NewBuffer("something else"), Options{})
		isErr(t, err, ErrValidation)
	})
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "histories.db")
	opt := StoreOptions{Logger: testLogger(t), IsTesting: true}
	env := setupBranchy(t)

	s := must(OpenStore(path, opt))
	env.ok(second(s.Save(env.Tree)))
	env.ok(s.Close())
	env.ok(s.Close())

	s = must(OpenStore(path, opt))
	defer s.Close()
	loaded, err := s.Load("doc-1", env.Buf, Options{})
	env.ok(err)
	if diff := shapeDiff(env.Tree, loaded); diff != "" {
		t.Fatalf("reloaded tree differs:\n%s", diff)
	}
	if s.Size() == 0 {
		t.Fatalf("Size = 0 after a read")
	}
}

func second[A, B any](a A, b B) B {
	return b
}
