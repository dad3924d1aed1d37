package memory

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/testutil"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return New(WithClock(testutil.FixedClock()), WithIDGenerator(testutil.NewStubIDGenerator()))
}

func TestTree_ListAndPaths(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	inv, err := tr.AddFolder(RootID, "Invoices")
	if err != nil {
		t.Fatalf("AddFolder failed: %v", err)
	}
	q1, _ := tr.AddFolder(inv.ID, "2025 Q1")
	f, err := tr.AddFile(q1.ID, "a.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	if f.ParentPath != "/Invoices/2025 Q1" || f.ParentID != q1.ID {
		t.Errorf("unexpected parent: %q %q", f.ParentPath, f.ParentID)
	}
	if f.Size != 4 || f.MIMEType != "application/pdf" || len(f.SHA256) != 64 {
		t.Errorf("unexpected file metadata: %+v", f)
	}

	root, err := tr.ListRoot(ctx)
	if err != nil || len(root) != 1 || root[0].ChildCount != 1 {
		t.Fatalf("ListRoot = %+v, %v", root, err)
	}

	byPath, err := tr.ListByPath(ctx, "/invoices/2025 q1/")
	if err != nil {
		t.Fatalf("ListByPath failed: %v", err)
	}
	if len(byPath) != 1 || byPath[0].ID != f.ID {
		t.Errorf("ListByPath = %+v", byPath)
	}

	item, err := tr.GetItemByPath(ctx, "Invoices/2025 Q1/a.pdf")
	if err != nil || item.ID != f.ID {
		t.Errorf("GetItemByPath = %+v, %v", item, err)
	}

	if _, err := tr.ListChildren(ctx, f.ID); err == nil {
		t.Error("listing a file should fail")
	}
	if _, err := tr.GetItem(ctx, "nope"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := tr.AddFile(q1.ID, "A.PDF", nil); err == nil {
		t.Error("duplicate name should be rejected")
	}
}

func TestTree_Download(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	f, _ := tr.AddFile(RootID, "note.txt", []byte("hello"))

	rc, err := tr.Download(ctx, f.ID)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	if _, err := tr.Download(ctx, RootID); err == nil {
		t.Error("downloading a folder should fail")
	}
}

func TestTree_SearchRecursive(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	base, _ := tr.AddFolder(RootID, "BaseFolder")
	sub, _ := tr.AddFolder(base.ID, "SubFolder")
	tr.AddFile(base.ID, "level1.md", []byte("match me"))
	tr.AddFile(sub.ID, "level2.md", []byte("MATCH me"))
	tr.AddFile(RootID, "other.md", []byte("nothing"))

	results, err := tr.Search(ctx, "match")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	found := map[string]bool{}
	for _, r := range results {
		found[r.Name] = true
	}
	if !found["level1.md"] || !found["level2.md"] {
		t.Errorf("nested matches missing: %v", found)
	}
	if found["other.md"] {
		t.Error("non-matching file returned")
	}
}

func TestTree_Recent(t *testing.T) {
	ctx := context.Background()
	clk := testutil.FixedClock()
	tr := New(WithClock(clk), WithIDGenerator(testutil.NewStubIDGenerator()))

	tr.AddFile(RootID, "old.pdf", nil)
	clk.Advance(time.Minute)
	dir, _ := tr.AddFolder(RootID, "Docs")
	tr.AddFile(dir.ID, "new.pdf", nil)

	recent, err := tr.Recent(ctx)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Name != "new.pdf" {
		t.Errorf("Recent = %+v", recent)
	}
}

func TestTree_Delta(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	inv, _ := tr.AddFolder(RootID, "Invoices")
	a, _ := tr.AddFile(inv.ID, "a.pdf", nil)
	tr.AddFile(RootID, "outside.pdf", nil)

	first, err := tr.Delta(ctx, inv.ID, "")
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if len(first.Items) != 1 || first.Items[0].ID != a.ID {
		t.Errorf("initial delta = %+v", first.Items)
	}

	none, _ := tr.Delta(ctx, inv.ID, first.NextCursor)
	if len(none.Items) != 0 {
		t.Errorf("expected no changes, got %+v", none.Items)
	}

	b, _ := tr.AddFile(inv.ID, "b.pdf", nil)
	if err := tr.Remove(a.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	next, _ := tr.Delta(ctx, inv.ID, first.NextCursor)
	if len(next.Items) != 2 || next.Items[0].ID != b.ID || !next.Items[1].Deleted {
		t.Errorf("delta after changes = %+v", next.Items)
	}

	if _, err := tr.Delta(ctx, inv.ID, "garbage"); err == nil {
		t.Error("invalid cursor should fail")
	}
}

func TestTree_Fault(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	f, _ := tr.AddFile(RootID, "a.pdf", nil)

	boom := &adapter.TransportError{Op: "download", Err: io.ErrUnexpectedEOF}
	tr.SetFault(func(op, id string) error {
		if op == OpDownload && id == f.ID {
			return boom
		}
		return nil
	})

	if _, err := tr.ListRoot(ctx); err != nil {
		t.Errorf("listing should still work: %v", err)
	}
	if _, err := tr.Download(ctx, f.ID); !errors.Is(err, boom) {
		t.Errorf("expected injected fault, got %v", err)
	}
}

func TestDemo(t *testing.T) {
	tr := Demo()
	items, err := tr.ListByPath(context.Background(), "/Invoices/2025")
	if err != nil {
		t.Fatalf("ListByPath failed: %v", err)
	}
	if len(adapter.FilesOnly(items)) != 13 {
		t.Errorf("expected 13 demo files, got %d", len(items))
	}
}
