package model

import (
	"encoding/json"
	"time"
)

// TokenRecord is the OAuth2 token persisted in the token slot.
// ExpiresAt is serialized as Unix milliseconds.
type TokenRecord struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"-"`
	Scope        string    `json:"scope"`
}

type tokenRecordJSON struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	Scope        string `json:"scope"`
}

func (t TokenRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenRecordJSON{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.UnixMilli(),
		Scope:        t.Scope,
	})
}

func (t *TokenRecord) UnmarshalJSON(data []byte) error {
	var raw tokenRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.AccessToken = raw.AccessToken
	t.RefreshToken = raw.RefreshToken
	t.ExpiresAt = time.UnixMilli(raw.ExpiresAt)
	t.Scope = raw.Scope
	return nil
}

// TokenResponse is the token payload returned by the backend exchange and refresh endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// UserProfile is the signed-in account as reported by the provider.
type UserProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ItemKind discriminates folders from files.
type ItemKind string

const (
	KindFolder ItemKind = "folder"
	KindFile   ItemKind = "file"
)

// RemoteItem is a file or folder in the remote tree.
type RemoteItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	Kind        ItemKind  `json:"kind"`
	ChildCount  int       `json:"childCount,omitempty"`
	MIMEType    string    `json:"mimeType,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	ParentPath  string    `json:"parentPath,omitempty"` // relative to the drive root, "" for root children
	WebURL      string    `json:"webUrl,omitempty"`
	DownloadURL string    `json:"-"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// IsFolder reports whether the item is a folder.
func (i RemoteItem) IsFolder() bool {
	return i.Kind == KindFolder
}

// Breadcrumb is one entry of the navigator's ancestor chain.
type Breadcrumb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// FolderSelection is the folder confirmed by the navigator.
type FolderSelection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// SyncConfig is the persisted sync configuration.
type SyncConfig struct {
	FolderID            string     `json:"folderId,omitempty"`
	FolderPath          string     `json:"folderPath,omitempty"`
	AutoSync            bool       `json:"autoSync"`
	SyncIntervalMinutes int        `json:"syncIntervalMinutes"`
	FileExtensions      []string   `json:"fileExtensions,omitempty"`
	LastSyncAt          *time.Time `json:"lastSyncAt,omitempty"`
}

// LogKind is the severity of a sync log entry.
type LogKind string

const (
	LogSuccess LogKind = "success"
	LogError   LogKind = "error"
	LogInfo    LogKind = "info"
	LogWarning LogKind = "warning"
)

// SyncLogEntry is one line of a sync session log.
type SyncLogEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           LogKind   `json:"type"`
	Message        string    `json:"message"`
	Details        string    `json:"details,omitempty"`
	FilesProcessed *int      `json:"filesProcessed,omitempty"`
	FilesSkipped   *int      `json:"filesSkipped,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
	ItemID         string    `json:"itemId,omitempty"`
}

// Drive describes one of the user's drives.
type Drive struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	Quota     *Quota `json:"quota,omitempty"`
}

type Quota struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// DeltaPage is the result of an incremental change query.
type DeltaPage struct {
	Items      []RemoteItem `json:"items"`
	NextCursor string       `json:"nextCursor"`
}

// Subscription is a change-notification subscription on a remote folder.
type Subscription struct {
	ID              string    `json:"id"`
	Resource        string    `json:"resource"`
	ChangeType      string    `json:"changeType"`
	NotificationURL string    `json:"notificationUrl"`
	ExpiresAt       time.Time `json:"expirationDateTime"`
	ClientState     string    `json:"clientState,omitempty"`
}

// Lease is a time-bounded lock held by one owner.
type Lease struct {
	Key       string `json:"key" dynamodbav:"lock_key"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
