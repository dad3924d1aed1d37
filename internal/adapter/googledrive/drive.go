// Package googledrive implements adapter.RemoteTree over the Google Drive v3 API.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

const (
	folderMIME = "application/vnd.google-apps.folder"
	fileFields = "id, name, mimeType, size, modifiedTime, createdTime, parents, webViewLink, sha256Checksum, trashed"
	listFields = googleapi.Field("nextPageToken, files(" + fileFields + ")")
	maxRecent  = 20
	maxDepth   = 64
)

// Tree implements adapter.RemoteTree for Google Drive.
type Tree struct {
	files  *drive.Service
	users  *oauth2api.Service
	tokens adapter.TokenSource
	logger *slog.Logger
}

var _ adapter.RemoteTree = (*Tree)(nil)

// bearerTransport attaches a fresh access token from tokens to every request.
type bearerTransport struct {
	tokens adapter.TokenSource
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	at, err := t.tokens.ValidAccessToken(req.Context())
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	(&oauth2.Token{AccessToken: at, TokenType: "Bearer"}).SetAuthHeader(r)
	return t.base.RoundTrip(r)
}

// NewTree creates a Drive tree authenticated through tokens. Extra client options
// (endpoint overrides in tests) are applied after the authenticated HTTP client.
func NewTree(ctx context.Context, tokens adapter.TokenSource, logger *slog.Logger, opts ...option.ClientOption) (*Tree, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Transport: &bearerTransport{tokens: tokens, base: http.DefaultTransport}}
	all := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)

	files, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	users, err := oauth2api.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("unable to create userinfo client: %w", err)
	}
	return &Tree{files: files, users: users, tokens: tokens, logger: logger}, nil
}

// ListRoot implements adapter.RemoteTree.
func (d *Tree) ListRoot(ctx context.Context) ([]model.RemoteItem, error) {
	return d.ListChildren(ctx, "root")
}

// ListChildren lists the non-trashed children of a folder, following page tokens.
func (d *Tree) ListChildren(ctx context.Context, folderID string) ([]model.RemoteItem, error) {
	if folderID == "" {
		folderID = "root"
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	return d.list(ctx, d.files.Files.List().Q(q).OrderBy("folder,name"))
}

// ListByPath resolves path segment by segment and lists the folder it names.
func (d *Tree) ListByPath(ctx context.Context, p string) ([]model.RemoteItem, error) {
	item, err := d.GetItemByPath(ctx, p)
	if err != nil {
		return nil, err
	}
	if !item.IsFolder() {
		return nil, &adapter.RemoteAPIError{Status: http.StatusBadRequest, Code: "notFolder", Message: p + " is not a folder"}
	}
	return d.ListChildren(ctx, item.ID)
}

// GetItem implements adapter.RemoteTree.
func (d *Tree) GetItem(ctx context.Context, itemID string) (*model.RemoteItem, error) {
	f, err := d.files.Files.Get(itemID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, d.mapErr(ctx, "get "+itemID, err)
	}
	item, err := toItem(f)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemByPath implements adapter.RemoteTree.
func (d *Tree) GetItemByPath(ctx context.Context, p string) (*model.RemoteItem, error) {
	cur, err := d.GetItem(ctx, "root")
	if err != nil {
		return nil, err
	}
	parentPath := ""
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			continue
		}
		q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", escapeQuery(cur.ID), escapeQuery(seg))
		matches, err := d.list(ctx, d.files.Files.List().Q(q).PageSize(1))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, &adapter.RemoteAPIError{Status: http.StatusNotFound, Code: "notFound", Message: p + " not found"}
		}
		next := matches[0]
		next.ParentPath = parentPath
		parentPath += "/" + next.Name
		cur = &next
	}
	return cur, nil
}

// Download implements adapter.RemoteTree.
func (d *Tree) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	resp, err := d.files.Files.Get(itemID).Context(ctx).Download()
	if err != nil {
		return nil, d.mapErr(ctx, "download "+itemID, err)
	}
	return resp.Body, nil
}

// Search matches names and full text.
func (d *Tree) Search(ctx context.Context, query string) ([]model.RemoteItem, error) {
	e := escapeQuery(query)
	q := fmt.Sprintf("(name contains '%s' or fullText contains '%s') and trashed = false", e, e)
	return d.list(ctx, d.files.Files.List().Q(q))
}

// Recent lists the files the user viewed most recently.
func (d *Tree) Recent(ctx context.Context) ([]model.RemoteItem, error) {
	call := d.files.Files.List().
		Q(fmt.Sprintf("mimeType != '%s' and trashed = false", folderMIME)).
		OrderBy("viewedByMeTime desc").
		PageSize(maxRecent).
		Fields(listFields).
		Context(ctx)
	res, err := call.Do()
	if err != nil {
		return nil, d.mapErr(ctx, "recent", err)
	}
	return toItems(res.Files)
}

// Delta uses the Changes API. Without a cursor it enumerates everything beneath
// folderID and returns a start page token as the next cursor.
func (d *Tree) Delta(ctx context.Context, folderID, cursor string) (*model.DeltaPage, error) {
	if folderID == "" {
		folderID = "root"
	}
	if cursor == "" {
		start, err := d.files.Changes.GetStartPageToken().Context(ctx).Do()
		if err != nil {
			return nil, d.mapErr(ctx, "delta start", err)
		}
		items, err := d.descendants(ctx, folderID)
		if err != nil {
			return nil, err
		}
		return &model.DeltaPage{Items: items, NextCursor: start.StartPageToken}, nil
	}

	page := &model.DeltaPage{Items: []model.RemoteItem{}}
	anc := &ancestry{tree: d, known: map[string]bool{folderID: true}}
	token := cursor
	for {
		res, err := d.files.Changes.List(token).
			Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))")).
			Context(ctx).Do()
		if err != nil {
			return nil, d.mapErr(ctx, "delta", err)
		}
		for _, c := range res.Changes {
			if c.Removed || c.File == nil || c.File.Trashed {
				page.Items = append(page.Items, model.RemoteItem{ID: c.FileId, Deleted: true, Kind: model.KindFile})
				continue
			}
			if folderID != "root" {
				in, err := anc.within(ctx, c.File.Parents)
				if err != nil {
					return nil, err
				}
				if !in {
					continue
				}
			}
			item, err := toItem(c.File)
			if err != nil {
				return nil, err
			}
			page.Items = append(page.Items, item)
		}
		if res.NewStartPageToken != "" {
			page.NextCursor = res.NewStartPageToken
			return page, nil
		}
		if res.NextPageToken == "" {
			return nil, &adapter.MalformedResponseError{What: "change list", Reason: "neither nextPageToken nor newStartPageToken present"}
		}
		token = res.NextPageToken
	}
}

// Me returns the signed-in user's profile.
func (d *Tree) Me(ctx context.Context) (*model.UserProfile, error) {
	info, err := d.users.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, d.mapErr(ctx, "userinfo", err)
	}
	if info.Id == "" {
		return nil, &adapter.MalformedResponseError{What: "userinfo", Reason: "missing id"}
	}
	return &model.UserProfile{
		ID:                info.Id,
		DisplayName:       info.Name,
		Mail:              info.Email,
		UserPrincipalName: info.Email,
	}, nil
}

func (d *Tree) list(ctx context.Context, call *drive.FilesListCall) ([]model.RemoteItem, error) {
	all := []model.RemoteItem{}
	err := call.Fields(listFields).Pages(ctx, func(res *drive.FileList) error {
		items, err := toItems(res.Files)
		if err != nil {
			return err
		}
		all = append(all, items...)
		return nil
	})
	if err != nil {
		var mErr *adapter.MalformedResponseError
		if errors.As(err, &mErr) {
			return nil, err
		}
		return nil, d.mapErr(ctx, "list", err)
	}
	return all, nil
}

func (d *Tree) descendants(ctx context.Context, folderID string) ([]model.RemoteItem, error) {
	var out []model.RemoteItem
	queue := []string{folderID}
	for depth := 0; len(queue) > 0; depth++ {
		if depth > maxDepth {
			return nil, &adapter.MalformedResponseError{What: "folder tree", Reason: "too deep"}
		}
		var next []string
		for _, id := range queue {
			children, err := d.ListChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, c)
				if c.IsFolder() {
					next = append(next, c.ID)
				}
			}
		}
		queue = next
	}
	if out == nil {
		out = []model.RemoteItem{}
	}
	return out, nil
}

// ancestry answers whether a file lies beneath the delta folder, caching folder lookups.
type ancestry struct {
	tree  *Tree
	known map[string]bool
}

func (a *ancestry) within(ctx context.Context, parents []string) (bool, error) {
	for _, p := range parents {
		in, err := a.folderWithin(ctx, p, 0)
		if err != nil || in {
			return in, err
		}
	}
	return false, nil
}

func (a *ancestry) folderWithin(ctx context.Context, id string, depth int) (bool, error) {
	if v, ok := a.known[id]; ok {
		return v, nil
	}
	if depth > maxDepth {
		return false, nil
	}
	f, err := a.tree.files.Files.Get(id).Fields("id, parents").Context(ctx).Do()
	if err != nil {
		return false, a.tree.mapErr(ctx, "get "+id, err)
	}
	in := false
	for _, p := range f.Parents {
		if in, err = a.folderWithin(ctx, p, depth+1); err != nil || in {
			break
		}
	}
	if err != nil {
		return false, err
	}
	a.known[id] = in
	return in, nil
}

// mapErr converts client errors into the adapter error taxonomy. A 401 clears the session.
func (d *Tree) mapErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, adapter.ErrNotConnected) {
		return adapter.ErrNotConnected
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusUnauthorized {
			d.logger.Warn("drive rejected access token, clearing session", "op", op)
			if err := d.tokens.Invalidate(ctx); err != nil {
				d.logger.Error("failed to clear session", "error", err)
			}
			return adapter.ErrAuthenticationExpired
		}
		apiErr := &adapter.RemoteAPIError{Status: gErr.Code, Message: gErr.Message}
		if len(gErr.Errors) > 0 {
			apiErr.Code = gErr.Errors[0].Reason
		}
		return apiErr
	}
	return &adapter.TransportError{Op: op, Err: err}
}

func toItems(files []*drive.File) ([]model.RemoteItem, error) {
	out := make([]model.RemoteItem, 0, len(files))
	for _, f := range files {
		item, err := toItem(f)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func toItem(f *drive.File) (model.RemoteItem, error) {
	if f == nil || f.Id == "" {
		return model.RemoteItem{}, &adapter.MalformedResponseError{What: "drive file", Reason: "missing id"}
	}
	if f.Name == "" {
		return model.RemoteItem{}, &adapter.MalformedResponseError{What: "drive file " + f.Id, Reason: "missing name"}
	}
	item := model.RemoteItem{
		ID:       f.Id,
		Name:     f.Name,
		Size:     f.Size,
		Kind:     model.KindFile,
		MIMEType: f.MimeType,
		SHA256:   strings.ToLower(f.Sha256Checksum),
		WebURL:   f.WebViewLink,
		Deleted:  f.Trashed,
	}
	if f.MimeType == folderMIME {
		item.Kind = model.KindFolder
		item.MIMEType = ""
	}
	if len(f.Parents) > 0 {
		item.ParentID = f.Parents[0]
	}
	item.ModifiedAt, _ = time.Parse(time.RFC3339, f.ModifiedTime)
	item.CreatedAt, _ = time.Parse(time.RFC3339, f.CreatedTime)
	return item, nil
}

// escapeQuery escapes a value for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
