package adapter

import (
	"context"
	"io"

	"github.com/jun/gophsync/internal/model"
)

// RemoteTree is a read-only view of a cloud drive.
// This abstraction allows switching between different providers (e.g., OneDrive, Google Drive)
// without changing the navigator or the sync runner.
type RemoteTree interface {
	// ListRoot lists the children of the drive root, following pagination.
	ListRoot(ctx context.Context) ([]model.RemoteItem, error)

	// ListChildren lists the children of a folder, following pagination.
	ListChildren(ctx context.Context, folderID string) ([]model.RemoteItem, error)

	// ListByPath lists the children of the folder at a root-relative path ("/Invoices/2025").
	ListByPath(ctx context.Context, path string) ([]model.RemoteItem, error)

	// GetItem retrieves an item's metadata by its ID.
	GetItem(ctx context.Context, itemID string) (*model.RemoteItem, error)

	// GetItemByPath retrieves an item's metadata by its root-relative path.
	GetItemByPath(ctx context.Context, path string) (*model.RemoteItem, error)

	// Download opens the content of a file. The caller closes the reader.
	Download(ctx context.Context, itemID string) (io.ReadCloser, error)

	// Search finds items matching the query anywhere in the drive.
	Search(ctx context.Context, query string) ([]model.RemoteItem, error)

	// Recent lists recently used files.
	Recent(ctx context.Context) ([]model.RemoteItem, error)

	// Delta returns the items changed under folderID since cursor.
	// An empty cursor starts a full enumeration.
	Delta(ctx context.Context, folderID, cursor string) (*model.DeltaPage, error)
}

// FilesOnly returns the non-folder items of a listing.
func FilesOnly(items []model.RemoteItem) []model.RemoteItem {
	files := make([]model.RemoteItem, 0, len(items))
	for _, it := range items {
		if !it.IsFolder() {
			files = append(files, it)
		}
	}
	return files
}

// FoldersOnly returns the folder items of a listing.
func FoldersOnly(items []model.RemoteItem) []model.RemoteItem {
	folders := make([]model.RemoteItem, 0, len(items))
	for _, it := range items {
		if it.IsFolder() {
			folders = append(folders, it)
		}
	}
	return folders
}
