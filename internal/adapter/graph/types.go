package graph

import (
	"net/url"
	"strings"
	"time"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

type parentReference struct {
	DriveID string `json:"driveId"`
	ID      string `json:"id"`
	Path    string `json:"path"`
}

type driveItem struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	LastModifiedDateTime time.Time        `json:"lastModifiedDateTime"`
	CreatedDateTime      time.Time        `json:"createdDateTime"`
	WebURL               string           `json:"webUrl"`
	ParentReference      *parentReference `json:"parentReference,omitempty"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	File *struct {
		MimeType string `json:"mimeType"`
		Hashes   *struct {
			SHA256Hash string `json:"sha256Hash"`
		} `json:"hashes,omitempty"`
	} `json:"file,omitempty"`
	Root    *struct{} `json:"root,omitempty"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted,omitempty"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl,omitempty"`
}

// collection is a page of a Graph collection response.
type collection struct {
	Value     *[]driveItem `json:"value"`
	NextLink  string       `json:"@odata.nextLink,omitempty"`
	DeltaLink string       `json:"@odata.deltaLink,omitempty"`
}

type user struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type drive struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	Quota     *struct {
		Total     int64 `json:"total"`
		Used      int64 `json:"used"`
		Remaining int64 `json:"remaining"`
	} `json:"quota,omitempty"`
}

type subscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d driveItem) toModel() (model.RemoteItem, error) {
	if d.ID == "" {
		return model.RemoteItem{}, &adapter.MalformedResponseError{What: "drive item", Reason: "missing id"}
	}
	deleted := d.Deleted != nil
	if d.Name == "" && !deleted {
		return model.RemoteItem{}, &adapter.MalformedResponseError{What: "drive item " + d.ID, Reason: "missing name"}
	}

	item := model.RemoteItem{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ModifiedAt:  d.LastModifiedDateTime,
		CreatedAt:   d.CreatedDateTime,
		Kind:        model.KindFile,
		WebURL:      d.WebURL,
		DownloadURL: d.DownloadURL,
		Deleted:     deleted,
	}
	if d.Folder != nil || d.Root != nil {
		item.Kind = model.KindFolder
		if d.Folder != nil {
			item.ChildCount = d.Folder.ChildCount
		}
	}
	if d.File != nil {
		item.MIMEType = d.File.MimeType
		if d.File.Hashes != nil {
			item.SHA256 = strings.ToLower(d.File.Hashes.SHA256Hash)
		}
	}
	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
		item.ParentPath = drivePath(d.ParentReference.Path)
	}
	return item, nil
}

// drivePath strips the "/drive/root:" (or "/drives/{id}/root:") prefix from a parent path.
// "/drive/root:" -> "", "/drive/root:/Invoices/2025" -> "/Invoices/2025".
func drivePath(p string) string {
	if i := strings.Index(p, "root:"); i >= 0 {
		p = p[i+len("root:"):]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return strings.TrimSuffix(p, "/")
}

func toModels(items []driveItem) ([]model.RemoteItem, error) {
	out := make([]model.RemoteItem, 0, len(items))
	for _, d := range items {
		it, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}
