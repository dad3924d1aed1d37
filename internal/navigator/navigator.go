// Package navigator implements interactive folder selection over a remote tree:
// breadcrumbs, a tentative pick and a terminal confirmation.
package navigator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

// Root is the breadcrumb index that returns to the drive root.
const Root = -1

var (
	ErrNotFolder        = errors.New("item is not a folder")
	ErrInvalidSelection = errors.New("only folders can be selected")
	ErrNoFolderChosen   = errors.New("no folder chosen")
	ErrBreadcrumbRange  = errors.New("breadcrumb index out of range")
	ErrStale            = errors.New("listing superseded by a newer navigation")
	ErrConfirmed        = errors.New("selection already confirmed")
)

// Snapshot is a consistent view of the navigator state.
type Snapshot struct {
	AtRoot      bool
	Current     *model.Breadcrumb
	Breadcrumbs []model.Breadcrumb
	Listing     []model.RemoteItem
	Selection   *model.RemoteItem
	Confirmed   bool
}

// Navigator is safe for concurrent use. Each navigation lists the target folder and
// applies the result only if no newer navigation started meanwhile.
type Navigator struct {
	tree   adapter.RemoteTree
	logger *slog.Logger

	mu        sync.Mutex
	seq       uint64
	crumbs    []model.Breadcrumb
	listing   []model.RemoteItem
	selection *model.RemoteItem
	selPath   string // resolved when picked; later navigation must not change it
	confirmed bool
}

// New creates a navigator at the root with an empty listing; call Open to load it.
func New(tree adapter.RemoteTree, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{tree: tree, logger: logger}
}

// Open moves to the root and lists it.
func (n *Navigator) Open(ctx context.Context) error {
	seq, err := n.begin()
	if err != nil {
		return err
	}
	items, err := n.tree.ListRoot(ctx)
	return n.apply(seq, nil, items, err)
}

// Enter descends into folder. Entering a folder already on the breadcrumb stack
// truncates the stack to it.
func (n *Navigator) Enter(ctx context.Context, folder model.RemoteItem) error {
	if !folder.IsFolder() {
		return ErrNotFolder
	}

	n.mu.Lock()
	if n.confirmed {
		n.mu.Unlock()
		return ErrConfirmed
	}
	crumbs := enterCrumbs(n.crumbs, folder)
	n.seq++
	seq := n.seq
	n.mu.Unlock()

	items, err := n.tree.ListChildren(ctx, folder.ID)
	return n.apply(seq, crumbs, items, err)
}

// GoToBreadcrumb keeps breadcrumbs [0..index] and re-lists that folder; Root clears
// to the drive root.
func (n *Navigator) GoToBreadcrumb(ctx context.Context, index int) error {
	if index == Root {
		return n.Open(ctx)
	}

	n.mu.Lock()
	if n.confirmed {
		n.mu.Unlock()
		return ErrConfirmed
	}
	if index < 0 || index >= len(n.crumbs) {
		n.mu.Unlock()
		return ErrBreadcrumbRange
	}
	crumbs := append([]model.Breadcrumb(nil), n.crumbs[:index+1]...)
	n.seq++
	seq := n.seq
	n.mu.Unlock()

	items, err := n.tree.ListChildren(ctx, crumbs[index].ID)
	return n.apply(seq, crumbs, items, err)
}

// Pick tentatively selects a folder without navigating.
func (n *Navigator) Pick(item model.RemoteItem) error {
	if !item.IsFolder() {
		return ErrInvalidSelection
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmed {
		return ErrConfirmed
	}
	picked := item
	n.selection = &picked
	n.selPath = n.itemPath(item)
	return nil
}

// ClearPick drops the tentative selection.
func (n *Navigator) ClearPick() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.confirmed {
		n.selection = nil
		n.selPath = ""
	}
}

// Confirm resolves the chosen folder: the tentative pick, else the current folder.
// After a successful Confirm every other action fails with ErrConfirmed.
func (n *Navigator) Confirm() (model.FolderSelection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.confirmed {
		return model.FolderSelection{}, ErrConfirmed
	}

	var sel model.FolderSelection
	switch {
	case n.selection != nil:
		sel = model.FolderSelection{ID: n.selection.ID, Name: n.selection.Name, Path: n.selPath}
	case len(n.crumbs) > 0:
		cur := n.crumbs[len(n.crumbs)-1]
		sel = model.FolderSelection{ID: cur.ID, Name: cur.Name, Path: cur.Path}
	default:
		return model.FolderSelection{}, ErrNoFolderChosen
	}

	n.confirmed = true
	n.logger.Info("folder confirmed", "folder", sel.ID, "path", sel.Path)
	return sel, nil
}

// Snapshot returns a copy of the current state.
func (n *Navigator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Snapshot{
		AtRoot:      len(n.crumbs) == 0,
		Breadcrumbs: append([]model.Breadcrumb(nil), n.crumbs...),
		Listing:     append([]model.RemoteItem(nil), n.listing...),
		Confirmed:   n.confirmed,
	}
	if len(n.crumbs) > 0 {
		cur := n.crumbs[len(n.crumbs)-1]
		s.Current = &cur
	}
	if n.selection != nil {
		sel := *n.selection
		s.Selection = &sel
	}
	return s
}

func (n *Navigator) begin() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmed {
		return 0, ErrConfirmed
	}
	n.seq++
	return n.seq, nil
}

// apply installs a listing result if seq is still the latest navigation.
func (n *Navigator) apply(seq uint64, crumbs []model.Breadcrumb, items []model.RemoteItem, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if seq != n.seq || n.confirmed {
		n.logger.Debug("discarding stale listing", "seq", seq, "latest", n.seq)
		return ErrStale
	}
	if err != nil {
		return err
	}
	if crumbs != nil {
		last := crumbs[len(crumbs)-1]
		for i := range items {
			if items[i].ParentPath == "" && last.Path != "" {
				items[i].ParentPath = last.Path
			}
		}
	}
	n.crumbs = crumbs
	n.listing = items
	return nil
}

// itemPath derives a root-relative path for a listed item.
func (n *Navigator) itemPath(item model.RemoteItem) string {
	for _, c := range n.crumbs {
		if c.ID == item.ID {
			return c.Path
		}
	}
	parent := item.ParentPath
	if parent == "" && len(n.crumbs) > 0 {
		parent = n.crumbs[len(n.crumbs)-1].Path
	}
	return parent + "/" + item.Name
}

func enterCrumbs(crumbs []model.Breadcrumb, folder model.RemoteItem) []model.Breadcrumb {
	for i, c := range crumbs {
		if c.ID == folder.ID {
			return append([]model.Breadcrumb(nil), crumbs[:i+1]...)
		}
	}
	parent := folder.ParentPath
	if parent == "" && len(crumbs) > 0 {
		parent = crumbs[len(crumbs)-1].Path
	}
	next := append([]model.Breadcrumb(nil), crumbs...)
	return append(next, model.Breadcrumb{ID: folder.ID, Name: folder.Name, Path: parent + "/" + folder.Name})
}
