package adapter

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jun/gophsync/internal/model"
)

func TestFilesOnly(t *testing.T) {
	items := []model.RemoteItem{
		{ID: "1", Kind: model.KindFolder},
		{ID: "2", Kind: model.KindFile},
		{ID: "3", Kind: model.KindFile},
	}
	files := FilesOnly(items)
	if len(files) != 2 || files[0].ID != "2" || files[1].ID != "3" {
		t.Errorf("FilesOnly = %+v", files)
	}
	folders := FoldersOnly(items)
	if len(folders) != 1 || folders[0].ID != "1" {
		t.Errorf("FoldersOnly = %+v", folders)
	}
}

func TestRemoteAPIError_NotFound(t *testing.T) {
	err := fmt.Errorf("get item: %w", &RemoteAPIError{Status: 404, Code: "itemNotFound"})
	if !errors.Is(err, ErrNotFound) {
		t.Error("404 should match ErrNotFound")
	}
	if errors.Is(&RemoteAPIError{Status: 500}, ErrNotFound) {
		t.Error("500 should not match ErrNotFound")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &TransportError{Op: "list", Err: io.ErrUnexpectedEOF}, true},
		{"wrapped transport", fmt.Errorf("sync: %w", &TransportError{Op: "download", Err: io.EOF}), true},
		{"api error", &RemoteAPIError{Status: 503}, false},
		{"auth expired", ErrAuthenticationExpired, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
