package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func devConfig() Config {
	return Config{
		DevMode:          true,
		FrontendURL:      "https://app.example.com",
		DefaultProvider:  "onedrive",
		OneDriveClientID: "client-1",
		OneDriveSecret:   "secret-1",
	}
}

func TestNew_RequiresDefaultProviderCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing client id", func(c *Config) { c.OneDriveClientID = "" }},
		{"missing secret", func(c *Config) { c.OneDriveSecret = "" }},
		{"google default without credentials", func(c *Config) { c.DefaultProvider = "googledrive" }},
		{"unknown default", func(c *Config) { c.DefaultProvider = "dropbox" }},
		{"gateway secret outside dev mode", func(c *Config) { c.DevMode = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := devConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, nil, nil); err == nil {
				t.Error("expected startup error")
			}
		})
	}
}

func TestHandleRequest_Routing(t *testing.T) {
	app, err := New(devConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		query      map[string]string
		wantStatus int
	}{
		{"preflight", "OPTIONS", "/api/auth/onedrive/token", "", nil, http.StatusNoContent},
		{"callback", "GET", "/auth/onedrive/callback", "", map[string]string{"code": "c", "state": "s"}, http.StatusFound},
		{"callback with api prefix", "GET", "/api/auth/onedrive/callback", "", nil, http.StatusFound},
		{"unconfigured provider", "POST", "/auth/googledrive/token", `{"code":"c"}`, nil, http.StatusInternalServerError},
		{"unknown provider", "POST", "/auth/dropbox/token", `{"code":"c"}`, nil, http.StatusNotFound},
		{"missing code", "POST", "/auth/onedrive/token", `{}`, nil, http.StatusBadRequest},
		{"wrong method", "GET", "/auth/onedrive/token", "", nil, http.StatusNotFound},
		{"unknown route", "GET", "/notes", "", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.HandleRequest(ctx, events.APIGatewayProxyRequest{
				HTTPMethod:            tt.method,
				Path:                  tt.path,
				Body:                  tt.body,
				QueryStringParameters: tt.query,
			})
			if err != nil {
				t.Fatalf("HandleRequest failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Body)
			}
			if resp.Headers["Access-Control-Allow-Origin"] != "https://app.example.com" {
				t.Errorf("missing CORS header: %v", resp.Headers)
			}
		})
	}
}

func TestHandleRequest_OriginVerify(t *testing.T) {
	cfg := devConfig()
	cfg.DevMode = false
	cfg.APIGatewaySecret = "gw-secret"
	app, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/auth/onedrive/callback"}
	resp, _ := app.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("without header: status = %d, want 403", resp.StatusCode)
	}

	req.Headers = map[string]string{"x-origin-verify": "gw-secret"}
	resp, _ = app.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusFound {
		t.Errorf("with header: status = %d, want 302", resp.StatusCode)
	}
}

// redirectTransport sends every request to target, keeping the path.
type redirectTransport struct {
	target string
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := *req.URL
	u.Scheme = "http"
	u.Host = strings.TrimPrefix(rt.target, "http://")
	out := req.Clone(req.Context())
	out.URL = &u
	out.Host = u.Host
	return http.DefaultTransport.RoundTrip(out)
}

func TestHandleRequest_ExchangeAgainstProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
			return
		}
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	app, err := New(devConfig(), &http.Client{Transport: redirectTransport{target: srv.URL}}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, _ := app.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "POST",
		Path:       "/api/auth/onedrive/token",
		Body:       `{"code":"good","redirectUri":"http://127.0.0.1:53682/callback"}`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, resp.Body)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	json.Unmarshal([]byte(resp.Body), &tok)
	if tok.AccessToken != "at" || tok.ExpiresIn != 3600 {
		t.Errorf("unexpected token: %+v", tok)
	}

	resp, _ = app.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "POST",
		Path:       "/auth/onedrive/token",
		Body:       `{"code":"bad"}`,
	})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(resp.Body, "invalid_grant") {
		t.Errorf("provider error not propagated: %d %s", resp.StatusCode, resp.Body)
	}
}

type mapResolver map[string]string

func (m mapResolver) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", errors.New("not found: " + name)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DEV_MODE", "false")
	t.Setenv("FRONTEND_URL", "https://app.example.com")
	t.Setenv("ONEDRIVE_CLIENT_ID", "client-1")
	t.Setenv("ONEDRIVE_CLIENT_SECRET_PARAM", "/test/onedrive")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("API_GATEWAY_SECRET_PARAM", "/test/gateway")
	t.Setenv("DEFAULT_PROVIDER", "")

	cfg, err := ConfigFromEnv(context.Background(), mapResolver{
		"/test/onedrive": "od-secret",
		"/test/gateway":  "gw-secret",
	}, nil)
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.OneDriveSecret != "od-secret" || cfg.APIGatewaySecret != "gw-secret" {
		t.Errorf("secrets not resolved: %+v", cfg)
	}
	if cfg.DefaultProvider != "onedrive" || cfg.OneDriveTenant != "common" || cfg.DevMode {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.GoogleSecret != "" {
		t.Error("google secret should not be looked up without a client id")
	}
}
