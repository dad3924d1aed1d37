// Package memory implements adapter.RemoteTree over an in-process tree.
// It backs tests and the CLI demo mode.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/clock"
	"github.com/jun/gophsync/internal/model"
)

// RootID is the ID of the drive root.
const RootID = "root"

const maxRecent = 20

// Operation names passed to a FaultFunc.
const (
	OpList     = "list"
	OpGet      = "get"
	OpDownload = "download"
	OpSearch   = "search"
	OpDelta    = "delta"
)

// FaultFunc returns a non-nil error to make op on id fail.
type FaultFunc func(op, id string) error

type node struct {
	item    model.RemoteItem
	content []byte
	version uint64
}

// Tree is an in-memory drive. Safe for concurrent use.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	children map[string][]string
	version  uint64
	clock    clock.Clock
	ids      clock.IDGenerator
	fault    FaultFunc
}

var _ adapter.RemoteTree = (*Tree)(nil)

type Option func(*Tree)

func WithClock(c clock.Clock) Option {
	return func(t *Tree) { t.clock = c }
}

func WithIDGenerator(g clock.IDGenerator) Option {
	return func(t *Tree) { t.ids = g }
}

// New creates an empty tree containing only the root folder.
func New(opts ...Option) *Tree {
	t := &Tree{
		nodes:    make(map[string]*node),
		children: make(map[string][]string),
		clock:    clock.RealClock{},
		ids:      clock.UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(t)
	}
	now := t.clock.Now()
	t.nodes[RootID] = &node{item: model.RemoteItem{
		ID: RootID, Name: "root", Kind: model.KindFolder, CreatedAt: now, ModifiedAt: now,
	}}
	return t
}

// SetFault installs fn to be consulted before every operation. nil removes it.
func (t *Tree) SetFault(fn FaultFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fault = fn
}

// AddFolder creates a folder under parentID.
func (t *Tree) AddFolder(parentID, name string) (model.RemoteItem, error) {
	return t.add(parentID, name, model.KindFolder, nil)
}

// AddFile creates a file with content under parentID.
func (t *Tree) AddFile(parentID, name string, content []byte) (model.RemoteItem, error) {
	return t.add(parentID, name, model.KindFile, content)
}

func (t *Tree) add(parentID, name string, kind model.ItemKind, content []byte) (model.RemoteItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name == "" || strings.Contains(name, "/") {
		return model.RemoteItem{}, fmt.Errorf("invalid name %q", name)
	}
	parent, err := t.liveFolder(parentID)
	if err != nil {
		return model.RemoteItem{}, err
	}
	for _, id := range t.children[parentID] {
		if n := t.nodes[id]; !n.item.Deleted && strings.EqualFold(n.item.Name, name) {
			return model.RemoteItem{}, fmt.Errorf("%q already exists in %s", name, parentID)
		}
	}

	now := t.clock.Now()
	t.version++
	item := model.RemoteItem{
		ID:         t.ids.New(),
		Name:       name,
		Kind:       kind,
		CreatedAt:  now,
		ModifiedAt: now,
		ParentID:   parentID,
		ParentPath: t.pathOf(parent),
	}
	if kind == model.KindFile {
		sum := sha256.Sum256(content)
		item.Size = int64(len(content))
		item.SHA256 = hex.EncodeToString(sum[:])
		item.MIMEType = mime.TypeByExtension(path.Ext(name))
		content = append([]byte(nil), content...)
	}

	t.nodes[item.ID] = &node{item: item, content: content, version: t.version}
	t.children[parentID] = append(t.children[parentID], item.ID)
	parent.item.ChildCount++
	return item, nil
}

// Remove deletes an item and, for folders, everything beneath it. Deleted items
// are reported by Delta.
func (t *Tree) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == RootID {
		return fmt.Errorf("cannot remove the root")
	}
	n, ok := t.nodes[id]
	if !ok || n.item.Deleted {
		return adapter.ErrNotFound
	}
	t.version++
	t.tombstone(n)
	if p, ok := t.nodes[n.item.ParentID]; ok {
		p.item.ChildCount--
	}
	return nil
}

func (t *Tree) tombstone(n *node) {
	n.item.Deleted = true
	n.version = t.version
	for _, id := range t.children[n.item.ID] {
		if c := t.nodes[id]; !c.item.Deleted {
			t.tombstone(c)
		}
	}
}

// ListRoot implements adapter.RemoteTree.
func (t *Tree) ListRoot(ctx context.Context) ([]model.RemoteItem, error) {
	return t.ListChildren(ctx, RootID)
}

// ListChildren implements adapter.RemoteTree.
func (t *Tree) ListChildren(ctx context.Context, folderID string) ([]model.RemoteItem, error) {
	if folderID == "" {
		folderID = RootID
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpList, folderID); err != nil {
		return nil, err
	}
	if _, err := t.liveFolder(folderID); err != nil {
		return nil, err
	}
	return t.listLocked(folderID), nil
}

// ListByPath implements adapter.RemoteTree.
func (t *Tree) ListByPath(ctx context.Context, p string) ([]model.RemoteItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpList, p); err != nil {
		return nil, err
	}
	n, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if n.item.Kind != model.KindFolder {
		return nil, &adapter.RemoteAPIError{Status: http.StatusBadRequest, Code: "notFolder", Message: p + " is not a folder"}
	}
	return t.listLocked(n.item.ID), nil
}

// GetItem implements adapter.RemoteTree.
func (t *Tree) GetItem(ctx context.Context, id string) (*model.RemoteItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpGet, id); err != nil {
		return nil, err
	}
	n, ok := t.nodes[id]
	if !ok || n.item.Deleted {
		return nil, notFound(id)
	}
	item := n.item
	return &item, nil
}

// GetItemByPath implements adapter.RemoteTree.
func (t *Tree) GetItemByPath(ctx context.Context, p string) (*model.RemoteItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpGet, p); err != nil {
		return nil, err
	}
	n, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	item := n.item
	return &item, nil
}

// Download implements adapter.RemoteTree.
func (t *Tree) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpDownload, id); err != nil {
		return nil, err
	}
	n, ok := t.nodes[id]
	if !ok || n.item.Deleted {
		return nil, notFound(id)
	}
	if n.item.Kind != model.KindFile {
		return nil, &adapter.RemoteAPIError{Status: http.StatusBadRequest, Code: "notFile", Message: id + " is a folder"}
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

// Search matches the query case-insensitively against names and file content.
func (t *Tree) Search(ctx context.Context, query string) ([]model.RemoteItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpSearch, query); err != nil {
		return nil, err
	}
	results := []model.RemoteItem{}
	t.walk(RootID, func(n *node) {
		if containsIgnoreCase(n.item.Name, query) || containsIgnoreCase(string(n.content), query) {
			results = append(results, n.item)
		}
	})
	return results, nil
}

// Recent lists files by modification time, newest first.
func (t *Tree) Recent(ctx context.Context) ([]model.RemoteItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpList, "recent"); err != nil {
		return nil, err
	}
	var files []model.RemoteItem
	t.walk(RootID, func(n *node) {
		if n.item.Kind == model.KindFile {
			files = append(files, n.item)
		}
	})
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	if len(files) > maxRecent {
		files = files[:maxRecent]
	}
	if files == nil {
		files = []model.RemoteItem{}
	}
	return files, nil
}

// Delta reports every item beneath folderID whose version is newer than cursor,
// including deletions. The cursor is the tree version at the time of the call.
func (t *Tree) Delta(ctx context.Context, folderID, cursor string) (*model.DeltaPage, error) {
	if folderID == "" {
		folderID = RootID
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.check(ctx, OpDelta, folderID); err != nil {
		return nil, err
	}
	var since uint64
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil || v > t.version {
			return nil, &adapter.RemoteAPIError{Status: http.StatusGone, Code: "resyncRequired", Message: "invalid delta cursor"}
		}
		since = v
	}
	if _, ok := t.nodes[folderID]; !ok {
		return nil, notFound(folderID)
	}

	var changed []*node
	t.walkAll(folderID, func(n *node) {
		if n.version > since {
			changed = append(changed, n)
		}
	})
	sort.SliceStable(changed, func(i, j int) bool { return changed[i].version < changed[j].version })

	page := &model.DeltaPage{Items: make([]model.RemoteItem, 0, len(changed)), NextCursor: strconv.FormatUint(t.version, 10)}
	for _, n := range changed {
		page.Items = append(page.Items, n.item)
	}
	return page, nil
}

func (t *Tree) check(ctx context.Context, op, id string) error {
	if err := ctx.Err(); err != nil {
		return &adapter.TransportError{Op: op, Err: err}
	}
	if t.fault != nil {
		return t.fault(op, id)
	}
	return nil
}

func (t *Tree) listLocked(folderID string) []model.RemoteItem {
	items := []model.RemoteItem{}
	for _, id := range t.children[folderID] {
		if n := t.nodes[id]; !n.item.Deleted {
			items = append(items, n.item)
		}
	}
	return items
}

func (t *Tree) liveFolder(id string) (*node, error) {
	n, ok := t.nodes[id]
	if !ok || n.item.Deleted {
		return nil, notFound(id)
	}
	if n.item.Kind != model.KindFolder {
		return nil, &adapter.RemoteAPIError{Status: http.StatusBadRequest, Code: "notFolder", Message: id + " is not a folder"}
	}
	return n, nil
}

// resolve walks a root-relative path, matching names case-insensitively.
func (t *Tree) resolve(p string) (*node, error) {
	cur := t.nodes[RootID]
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			continue
		}
		var next *node
		for _, id := range t.children[cur.item.ID] {
			if n := t.nodes[id]; !n.item.Deleted && strings.EqualFold(n.item.Name, seg) {
				next = n
				break
			}
		}
		if next == nil {
			return nil, notFound(p)
		}
		cur = next
	}
	return cur, nil
}

func (t *Tree) pathOf(n *node) string {
	if n.item.ID == RootID {
		return ""
	}
	return n.item.ParentPath + "/" + n.item.Name
}

// walk visits live descendants of id depth-first.
func (t *Tree) walk(id string, fn func(*node)) {
	for _, cid := range t.children[id] {
		n := t.nodes[cid]
		if n.item.Deleted {
			continue
		}
		fn(n)
		t.walk(cid, fn)
	}
}

// walkAll visits every descendant of id, deleted ones included.
func (t *Tree) walkAll(id string, fn func(*node)) {
	for _, cid := range t.children[id] {
		fn(t.nodes[cid])
		t.walkAll(cid, fn)
	}
}

func notFound(what string) error {
	return &adapter.RemoteAPIError{Status: http.StatusNotFound, Code: "itemNotFound", Message: what + " not found"}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
