package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"peerpool/pkg/logx"
)

func openTest(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "peerpool.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	if st == nil {
		t.Fatalf("open %s: nil store", driver)
	}
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: store=%v err=%v", d, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	for _, d := range []string{"file", "sqlite"} {
		if _, err := Open(Config{Driver: d}, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error for empty path", d)
		}
	}
}

func TestOverrides(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, path := openTest(t, driver)

			if err := st.PutOverride(ctx, Override{Kind: KindDevice, Key: "/mnt/a", Value: 3}); err != nil {
				t.Fatal(err)
			}
			if err := st.PutOverride(ctx, Override{Kind: KindPool, Key: PoolIO, Value: 8}); err != nil {
				t.Fatal(err)
			}
			if err := st.PutOverride(ctx, Override{Kind: KindDevice, Key: "/mnt/a", Value: 5}); err != nil {
				t.Fatal(err)
			}
			if err := st.PutOverride(ctx, Override{Kind: KindDevice, Key: "/mnt/b", Value: 1}); err != nil {
				t.Fatal(err)
			}
			if err := st.DeleteOverride(ctx, KindDevice, "/mnt/b"); err != nil {
				t.Fatal(err)
			}
			if err := st.PutOverride(ctx, Override{Kind: KindDevice, Key: "/mnt/c", Value: 0}); err == nil {
				t.Fatal("expected error for value 0")
			}
			if err := st.PutOverride(ctx, Override{Kind: "bogus", Key: "k", Value: 1}); err == nil {
				t.Fatal("expected error for unknown kind")
			}

			check := func(st Store) {
				t.Helper()
				got, err := st.Overrides(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != 2 {
					t.Fatalf("overrides = %+v, want 2", got)
				}
				if got[0].Kind != KindDevice || got[0].Key != "/mnt/a" || got[0].Value != 5 {
					t.Fatalf("got[0] = %+v", got[0])
				}
				if got[1].Kind != KindPool || got[1].Key != PoolIO || got[1].Value != 8 {
					t.Fatalf("got[1] = %+v", got[1])
				}
				if got[0].UpdatedAt.IsZero() {
					t.Fatal("UpdatedAt not set")
				}
			}
			check(st)

			if err := st.Close(); err != nil {
				t.Fatal(err)
			}
			st2, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			defer st2.Close()
			check(st2)
		})
	}
}

func TestAudit(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTest(t, driver)
			defer st.Close()

			for i := 1; i <= 5; i++ {
				e := AuditEntry{Source: "cli", Action: "pool.resized", Target: "io", From: i - 1, To: i}
				if i == 5 {
					e.Error = "boom"
				}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatal(err)
				}
			}

			got, err := st.RecentAudit(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, want := range []int{5, 4, 3} {
				if got[i].To != want {
					t.Fatalf("got[%d].To = %d, want %d", i, got[i].To, want)
				}
			}
			if got[0].Error != "boom" || got[1].Error != "" {
				t.Fatalf("errors = %q, %q", got[0].Error, got[1].Error)
			}
			if got[0].At.IsZero() {
				t.Fatal("At not set")
			}

			all, err := st.RecentAudit(ctx, 100)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 5 {
				t.Fatalf("len = %d, want 5", len(all))
			}
			if none, _ := st.RecentAudit(ctx, 0); len(none) != 0 {
				t.Fatalf("limit 0 returned %d entries", len(none))
			}
		})
	}
}

func TestFileCompaction(t *testing.T) {
	ctx := context.Background()
	st, path := openTest(t, "file")
	fs := st.(*fileStore)
	fs.compactEvery = 3

	for i := 1; i <= 7; i++ {
		if err := st.PutOverride(ctx, Override{Kind: KindPool, Key: PoolCPU, Value: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.DeleteOverride(ctx, KindPool, PoolCPU); err != nil {
		t.Fatal(err)
	}
	if err := st.PutOverride(ctx, Override{Kind: KindPool, Key: PoolDefaultDevice, Value: 4}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	got, _ := st2.Overrides(ctx)
	if len(got) != 1 || got[0].Key != PoolDefaultDevice || got[0].Value != 4 {
		t.Fatalf("overrides after reopen = %+v", got)
	}
}
