package auth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

const (
	OneDrive    = "onedrive"
	GoogleDrive = "googledrive"
)

// Provider describes an identity provider's endpoints and default request shape.
type Provider struct {
	Name     string
	Endpoint oauth2.Endpoint
	Scopes   []string

	// AuthOptions are appended to every authorization URL.
	AuthOptions []oauth2.AuthCodeOption
}

// OneDriveProvider returns the Microsoft identity platform provider for tenant
// ("common" when empty).
func OneDriveProvider(tenant string) Provider {
	if tenant == "" {
		tenant = "common"
	}
	return Provider{
		Name:     OneDrive,
		Endpoint: microsoft.AzureADEndpoint(tenant),
		Scopes:   []string{"User.Read", "Files.Read", "Files.Read.All", "offline_access"},
		AuthOptions: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("response_mode", "query"),
		},
	}
}

// GoogleDriveProvider returns the Google provider with read-only Drive access.
func GoogleDriveProvider() Provider {
	return Provider{
		Name:     GoogleDrive,
		Endpoint: google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.readonly",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
	}
}

// LookupProvider returns the provider registered under name.
func LookupProvider(name, tenant string) (Provider, bool) {
	switch name {
	case OneDrive:
		return OneDriveProvider(tenant), true
	case GoogleDrive:
		return GoogleDriveProvider(), true
	default:
		return Provider{}, false
	}
}

// ProviderNames lists every supported provider.
func ProviderNames() []string {
	return []string{OneDrive, GoogleDrive}
}
