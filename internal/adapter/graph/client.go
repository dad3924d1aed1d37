// Package graph implements adapter.RemoteTree over the Microsoft Graph drive API (OneDrive).
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxPages bounds pagination so a provider bug cannot loop forever.
const maxPages = 10000

// Client implements adapter.RemoteTree for OneDrive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     adapter.TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ adapter.RemoteTree = (*Client)(nil)

type Option func(*Client)

// WithBaseURL points the client at another Graph root (tests, national clouds).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces requests to perSecond with the given burst. perSecond <= 0 disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Graph client that authenticates every call through tokens.
func NewClient(tokens adapter.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		tokens:     tokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRoot lists the children of the drive root.
func (c *Client) ListRoot(ctx context.Context) ([]model.RemoteItem, error) {
	return c.listAll(ctx, "/me/drive/root/children")
}

// ListChildren lists the children of a folder.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]model.RemoteItem, error) {
	if folderID == "" || folderID == "root" {
		return c.ListRoot(ctx)
	}
	return c.listAll(ctx, itemEndpoint(folderID)+"/children")
}

// ListByPath lists the children of the folder at path.
func (c *Client) ListByPath(ctx context.Context, path string) ([]model.RemoteItem, error) {
	escaped := escapePath(path)
	if escaped == "" {
		return c.ListRoot(ctx)
	}
	return c.listAll(ctx, "/me/drive/root:"+escaped+":/children")
}

// GetItem retrieves an item by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*model.RemoteItem, error) {
	return c.getItem(ctx, itemEndpoint(itemID))
}

// GetItemByPath retrieves an item by path.
func (c *Client) GetItemByPath(ctx context.Context, path string) (*model.RemoteItem, error) {
	escaped := escapePath(path)
	if escaped == "" {
		return c.getItem(ctx, "/me/drive/root")
	}
	return c.getItem(ctx, "/me/drive/root:"+escaped)
}

func (c *Client) getItem(ctx context.Context, endpoint string) (*model.RemoteItem, error) {
	var d driveItem
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &d); err != nil {
		return nil, err
	}
	item, err := d.toModel()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Download opens the content stream of a file.
// Graph answers with a redirect to a pre-authenticated URL which the HTTP client follows.
func (c *Client) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, itemEndpoint(itemID)+"/content", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Search finds items whose name or content matches query.
func (c *Client) Search(ctx context.Context, query string) ([]model.RemoteItem, error) {
	q := url.PathEscape(strings.ReplaceAll(query, "'", "''"))
	return c.listAll(ctx, "/me/drive/root/search(q='"+q+"')")
}

// Recent lists the user's recently used files.
func (c *Client) Recent(ctx context.Context) ([]model.RemoteItem, error) {
	return c.listAll(ctx, "/me/drive/recent")
}

// Delta returns changes under folderID. The returned cursor is the Graph delta link;
// passing it back yields only what changed since this call.
func (c *Client) Delta(ctx context.Context, folderID, cursor string) (*model.DeltaPage, error) {
	endpoint := cursor
	if endpoint == "" {
		if folderID == "" || folderID == "root" {
			endpoint = "/me/drive/root/delta"
		} else {
			endpoint = itemEndpoint(folderID) + "/delta"
		}
	}

	page := &model.DeltaPage{Items: []model.RemoteItem{}}
	for i := 0; i < maxPages; i++ {
		var coll collection
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &coll); err != nil {
			return nil, err
		}
		if coll.Value == nil {
			return nil, &adapter.MalformedResponseError{What: "delta page", Reason: "missing value"}
		}
		items, err := toModels(*coll.Value)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, items...)

		switch {
		case coll.DeltaLink != "":
			page.NextCursor = coll.DeltaLink
			return page, nil
		case coll.NextLink != "":
			endpoint = coll.NextLink
		default:
			return nil, &adapter.MalformedResponseError{What: "delta page", Reason: "neither nextLink nor deltaLink present"}
		}
	}
	return nil, &adapter.MalformedResponseError{What: "delta", Reason: "too many pages"}
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*model.UserProfile, error) {
	var u user
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, &adapter.MalformedResponseError{What: "user", Reason: "missing id"}
	}
	return &model.UserProfile{
		ID:                u.ID,
		DisplayName:       u.DisplayName,
		Mail:              u.Mail,
		UserPrincipalName: u.UserPrincipalName,
	}, nil
}

// Drives lists the drives available to the user.
func (c *Client) Drives(ctx context.Context) ([]model.Drive, error) {
	var resp struct {
		Value *[]drive `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/me/drives", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, &adapter.MalformedResponseError{What: "drive list", Reason: "missing value"}
	}

	drives := make([]model.Drive, 0, len(*resp.Value))
	for _, d := range *resp.Value {
		if d.ID == "" {
			return nil, &adapter.MalformedResponseError{What: "drive", Reason: "missing id"}
		}
		md := model.Drive{ID: d.ID, Name: d.Name, DriveType: d.DriveType}
		if d.Quota != nil {
			md.Quota = &model.Quota{Total: d.Quota.Total, Used: d.Quota.Used, Remaining: d.Quota.Remaining}
		}
		drives = append(drives, md)
	}
	return drives, nil
}

// CreateSubscription registers notificationURL for created/updated changes under folderID.
func (c *Client) CreateSubscription(ctx context.Context, req model.Subscription, folderID string) (*model.Subscription, error) {
	body, err := json.Marshal(subscription{
		ChangeType:         "created,updated",
		NotificationURL:    req.NotificationURL,
		Resource:           "/me/drive/items/" + folderID,
		ExpirationDateTime: req.ExpiresAt.UTC(),
		ClientState:        req.ClientState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subscription: %w", err)
	}

	var out subscription
	if err := c.doJSON(ctx, http.MethodPost, "/subscriptions", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &adapter.MalformedResponseError{What: "subscription", Reason: "missing id"}
	}
	return &model.Subscription{
		ID:              out.ID,
		Resource:        out.Resource,
		ChangeType:      out.ChangeType,
		NotificationURL: out.NotificationURL,
		ExpiresAt:       out.ExpirationDateTime,
		ClientState:     out.ClientState,
	}, nil
}

func (c *Client) listAll(ctx context.Context, endpoint string) ([]model.RemoteItem, error) {
	all := []model.RemoteItem{}
	for i := 0; i < maxPages; i++ {
		var coll collection
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &coll); err != nil {
			return nil, err
		}
		if coll.Value == nil {
			return nil, &adapter.MalformedResponseError{What: "item collection", Reason: "missing value"}
		}
		items, err := toModels(*coll.Value)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if coll.NextLink == "" {
			return all, nil
		}
		endpoint = coll.NextLink
		c.logger.Debug("following next page", "items", len(all))
	}
	return nil, &adapter.MalformedResponseError{What: "item collection", Reason: "too many pages"}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return &adapter.TransportError{Op: method + " " + endpoint, Err: err}
		}
		return &adapter.MalformedResponseError{What: "response to " + endpoint, Reason: err.Error()}
	}
	return nil
}

// send performs an authenticated request and maps non-success statuses to typed errors.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &adapter.TransportError{Op: method + " " + endpoint, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.TransportError{Op: method + " " + endpoint, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("graph rejected access token, clearing session", "endpoint", endpoint)
		if err := c.tokens.Invalidate(ctx); err != nil {
			c.logger.Error("failed to clear session", "error", err)
		}
		return nil, adapter.ErrAuthenticationExpired
	}

	apiErr := &adapter.RemoteAPIError{Status: resp.StatusCode}
	var eb errorBody
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &eb) == nil {
		apiErr.Code = eb.Error.Code
		apiErr.Message = eb.Error.Message
	}
	return nil, apiErr
}

// resolve turns a relative endpoint into a URL under baseURL. Absolute URLs
// (next/delta links) must stay on the base host so the bearer token never leaves it.
func (c *Client) resolve(endpoint string) (string, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return c.baseURL + endpoint, nil
	}
	target, err := url.Parse(endpoint)
	if err != nil {
		return "", &adapter.MalformedResponseError{What: "continuation link", Reason: err.Error()}
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return "", &adapter.MalformedResponseError{What: "continuation link", Reason: "points outside " + base.Host}
	}
	return endpoint, nil
}

func itemEndpoint(id string) string {
	return "/me/drive/items/" + url.PathEscape(id)
}

// escapePath turns "/Invoices/2025 Q1/" into "/Invoices/2025%20Q1"; "" and "/" give "".
func escapePath(p string) string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, url.PathEscape(s))
	}
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}
