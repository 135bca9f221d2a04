package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/sasm/vm"
)

var drivers = []string{DriverSQLite, DriverDuckDB}

// forEachDriver runs fn against a fresh store for every supported driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, s *Store)) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			fn(t, openTestStore(t, driver))
		})
	}
}

func openTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := Open(driver, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	forEachDriver(t, testRecordAndGet)
}

func testRecordAndGet(t *testing.T, s *Store) {
	ctx := context.Background()

	started := time.Unix(1700000000, 42)
	run := &Run{
		SourceDigest: Digest("@entry:\n psh 5\n ret"),
		Entry:        "@entry",
		ExitCode:     5,
		Stack:        []vm.Value{vm.Str("hi"), vm.BufferRef("*b"), vm.Float(1.5), vm.Bool(true), vm.Int(5)},
		Steps:        3,
		Started:      started,
		Duration:     1500 * time.Microsecond,
	}
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("Record did not assign an ID")
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SourceDigest != run.SourceDigest || got.Entry != "@entry" || got.ExitCode != 5 || got.Steps != 3 {
		t.Errorf("got %+v", got)
	}
	if !got.Started.Equal(started) || got.Duration != run.Duration {
		t.Errorf("times = %v/%v, want %v/%v", got.Started, got.Duration, started, run.Duration)
	}
	if len(got.Stack) != len(run.Stack) {
		t.Fatalf("stack = %v, want %v", got.Stack, run.Stack)
	}
	for i := range run.Stack {
		if !got.Stack[i].Equal(run.Stack[i]) {
			t.Errorf("stack[%d] = %#v, want %#v", i, got.Stack[i], run.Stack[i])
		}
	}
}

func TestGetMissing(t *testing.T) {
	forEachDriver(t, testGetMissing)
}

func testGetMissing(t *testing.T, s *Store) {
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	forEachDriver(t, testRecentNewestFirst)
}

func testRecentNewestFirst(t *testing.T, s *Store) {
	ctx := context.Background()

	base := time.Now()
	for i := range 3 {
		r := &Run{
			Entry:    "@entry",
			ExitCode: i,
			Started:  base.Add(time.Duration(i) * time.Second),
			Err:      "",
		}
		if i == 2 {
			r.Err = "stack underflow at 3:1"
		}
		if err := s.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ExitCode != 2 || runs[1].ExitCode != 1 {
		t.Errorf("order = %d, %d; want 2, 1", runs[0].ExitCode, runs[1].ExitCode)
	}
	if runs[0].Err == "" {
		t.Error("error text not stored")
	}
	if len(runs[0].Stack) != 0 {
		t.Errorf("empty stack decoded as %v", runs[0].Stack)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x"); err == nil {
		t.Error("Open should reject unsupported drivers")
	}
}

func TestEncodeStackIsCanonical(t *testing.T) {
	stack := []vm.Value{vm.Int(1), vm.Str("x")}
	a, err := EncodeStack(stack)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := EncodeStack([]vm.Value{vm.Int(1), vm.Str("x")})
	if string(a) != string(b) {
		t.Error("equal stacks encode differently")
	}
	if _, err := DecodeStack([]byte{0xff}); err == nil {
		t.Error("DecodeStack accepted garbage")
	}
}
