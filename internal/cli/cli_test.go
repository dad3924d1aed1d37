package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/kv"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/state"
)

// harness runs commands against one in-memory slot store so state survives between
// invocations.
type harness struct {
	t          *testing.T
	dir        string
	configPath string
	store      *kv.MemoryStore
	openURL    func(string)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:          t,
		dir:        dir,
		configPath: filepath.Join(dir, "gophsync.toml"),
		store:      kv.NewMemoryStore(),
	}
	t.Setenv("GOPHSYNC_CONFIG", h.configPath)
	t.Setenv("GOPHSYNC_HOME", dir)
	return h
}

func (h *harness) open(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (*Env, error) {
	env := &Env{Config: cfg, BaseDir: baseDir, Logger: logger}
	if err := env.wire(ctx, h.store); err != nil {
		return nil, err
	}
	return env, nil
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCmd(h.open, h.openURL)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("gophsync %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (h *harness) demo() {
	h.t.Helper()
	h.mustRun("", "config", "set", "demo", "true")
	h.mustRun("", "config", "set", "sync.dir", filepath.Join(h.dir, "inbox"))
}

func (h *harness) state() *state.Store {
	return state.New(h.store, auth.OneDrive, nil)
}

func TestDemo_BrowseAndSync(t *testing.T) {
	h := newHarness(t)
	h.demo()

	out := h.mustRun("cd 1\ncd 1\nok\n", "browse")
	if !strings.Contains(out, "Sync folder set to /Invoices/2025") {
		t.Fatalf("unexpected browse output:\n%s", out)
	}

	out = h.mustRun("", "sync", "--cap", "10")
	if !strings.Contains(out, "Batch limit reached") || !strings.Contains(out, "Sync completed") {
		t.Errorf("unexpected sync output:\n%s", out)
	}
	if n := strings.Count(out, "Processing INV-"); n != 10 {
		t.Errorf("processed %d invoices, want 10", n)
	}
	files, _ := os.ReadDir(filepath.Join(h.dir, "inbox"))
	if len(files) != 10 {
		t.Errorf("inbox holds %d files, want 10", len(files))
	}

	h.mustRun("", "sync")
	files, _ = os.ReadDir(filepath.Join(h.dir, "inbox"))
	if len(files) != 12 {
		t.Errorf("inbox holds %d files, want 12", len(files))
	}
	data, err := os.ReadFile(filepath.Join(h.dir, "inbox", "INV-2025-003.pdf"))
	if err != nil || string(data) != "%PDF-1.7 invoice 3" {
		t.Errorf("INV-2025-003.pdf = %q, %v", data, err)
	}

	sc, err := h.state().SyncConfig(context.Background())
	if err != nil || sc == nil {
		t.Fatalf("SyncConfig() = %v, %v", sc, err)
	}
	if sc.LastSyncAt == nil {
		t.Error("LastSyncAt not recorded")
	}

	out = h.mustRun("", "status")
	for _, want := range []string{"Connection: demo", "/Invoices/2025", "Last sync:"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestSync_WithoutFolder(t *testing.T) {
	h := newHarness(t)
	h.demo()
	if _, err := h.run("", "sync"); err == nil || !strings.Contains(err.Error(), "browse") {
		t.Errorf("expected a hint to run browse, got %v", err)
	}
}

func TestBrowse_PreservesSettings(t *testing.T) {
	h := newHarness(t)
	h.demo()
	ctx := context.Background()

	existing := state.DefaultSyncConfig()
	existing.AutoSync = true
	existing.SyncIntervalMinutes = 30
	existing.FileExtensions = []string{"pdf"}
	if err := h.state().SaveSyncConfig(ctx, existing); err != nil {
		t.Fatalf("SaveSyncConfig() error = %v", err)
	}

	h.mustRun("pick 2\nok\n", "browse")

	sc, _ := h.state().SyncConfig(ctx)
	if sc.FolderPath != "/Delivery Notes" || sc.FolderID == "" {
		t.Errorf("folder = %q (%q)", sc.FolderPath, sc.FolderID)
	}
	if !sc.AutoSync || sc.SyncIntervalMinutes != 30 || len(sc.FileExtensions) != 1 {
		t.Errorf("settings not preserved: %+v", sc)
	}
}

func TestBrowse_Errors(t *testing.T) {
	h := newHarness(t)
	h.demo()

	out := h.mustRun("ok\npick 4\ncd 9\nup\nbogus\nquit\n", "browse")
	for _, want := range []string{
		"no folder chosen",
		"only folders can be selected",
		`no item "9"`,
		"breadcrumb index out of range",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if sc, _ := h.state().SyncConfig(context.Background()); sc != nil {
		t.Errorf("quit must not save, got %+v", sc)
	}
}

func TestBrowse_PickThenBrowseSibling(t *testing.T) {
	h := newHarness(t)
	h.demo()

	out := h.mustRun("pick 1\ncd 2\nok\n", "browse")
	if !strings.Contains(out, "Sync folder set to /Invoices\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
	sc, _ := h.state().SyncConfig(context.Background())
	if sc == nil || sc.FolderPath != "/Invoices" || sc.FolderID != "demo-1" {
		t.Errorf("saved folder = %+v", sc)
	}
}

func TestBrowse_FoldersOnly(t *testing.T) {
	h := newHarness(t)
	h.demo()

	out := h.mustRun("pick 4\npick 3\nok\n", "browse", "--folders-only")
	if strings.Contains(out, "readme.txt") {
		t.Errorf("files should be hidden:\n%s", out)
	}
	if !strings.Contains(out, `no item "4"`) {
		t.Errorf("numbering should cover folders only:\n%s", out)
	}
	if !strings.Contains(out, "Sync folder set to /Customs") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestBrowse_Breadcrumbs(t *testing.T) {
	h := newHarness(t)
	h.demo()

	out := h.mustRun("cd 1\ncd 1\ncrumb 0\nok\n", "browse")
	if !strings.Contains(out, "root > [0] Invoices > [1] 2025") {
		t.Errorf("breadcrumbs not shown:\n%s", out)
	}
	if !strings.Contains(out, "Sync folder set to /Invoices\n") {
		t.Errorf("expected /Invoices to be confirmed:\n%s", out)
	}
}

func TestDemo_TreeCommands(t *testing.T) {
	h := newHarness(t)
	h.demo()

	if out := h.mustRun("", "ls", "/Invoices/2025"); !strings.Contains(out, "INV-2025-012.pdf") || !strings.Contains(out, "summary.xlsx") {
		t.Errorf("ls output:\n%s", out)
	}
	if out := h.mustRun("", "ls"); !strings.Contains(out, "Customs/") {
		t.Errorf("ls root output:\n%s", out)
	}
	if out := h.mustRun("", "search", "customs"); !strings.Contains(out, "EX1-88213.tiff") {
		t.Errorf("search output:\n%s", out)
	}
	if out := h.mustRun("", "search", "nothing-like-this"); !strings.Contains(out, "No matches.") {
		t.Errorf("empty search output:\n%s", out)
	}
	if out := h.mustRun("", "recent"); strings.Count(out, "\n") != 17 {
		t.Errorf("recent should list the 17 demo files:\n%s", out)
	}
	if _, err := h.run("", "ls", "/Missing"); err == nil {
		t.Error("expected error for a missing path")
	}
	if _, err := h.run("", "drives"); err == nil {
		t.Error("drives should need OneDrive")
	}
}

func TestDemo_Changes(t *testing.T) {
	h := newHarness(t)
	h.demo()
	h.mustRun("cd 1\nok\n", "browse")

	if out := h.mustRun("", "changes"); !strings.Contains(out, "Baseline: 14 items") {
		t.Errorf("first run:\n%s", out)
	}
	if out := h.mustRun("", "changes"); !strings.Contains(out, "No changes.") {
		t.Errorf("second run:\n%s", out)
	}
	if out := h.mustRun("", "changes", "--reset"); !strings.Contains(out, "Baseline") {
		t.Errorf("reset run:\n%s", out)
	}
}

func TestDemo_ChangesExpiredCursor(t *testing.T) {
	h := newHarness(t)
	h.demo()
	h.mustRun("cd 1\nok\n", "browse")
	ctx := context.Background()

	sc, _ := h.state().SyncConfig(ctx)
	h.state().SaveDeltaCursor(ctx, sc.FolderID, "999999")

	if out := h.mustRun("", "changes"); !strings.Contains(out, "Baseline") {
		t.Errorf("expired cursor should restart from a baseline:\n%s", out)
	}
}

func TestDisconnect_ClearsState(t *testing.T) {
	h := newHarness(t)
	h.demo()
	h.mustRun("", "connect")
	h.mustRun("cd 1\nok\n", "browse")

	h.mustRun("", "disconnect")
	h.mustRun("", "disconnect")

	ctx := context.Background()
	if u, _ := h.state().User(ctx); u != nil {
		t.Error("user should be cleared")
	}
	if sc, _ := h.state().SyncConfig(ctx); sc != nil {
		t.Error("sync config should be cleared")
	}
}

func TestConfigSetAndShow(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "config", "set", "sync.batch_cap", "25")

	cfg, err := config.Load(h.configPath, h.dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.BatchCap != 25 {
		t.Errorf("BatchCap = %d", cfg.Sync.BatchCap)
	}
	if out := h.mustRun("", "config", "show"); !strings.Contains(out, "batch_cap = 25") {
		t.Errorf("show output:\n%s", out)
	}
	if _, err := h.run("", "config", "set", "nope", "1"); err == nil {
		t.Error("expected unknown key error")
	}
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("", "status"); err == nil || !strings.Contains(err.Error(), "client_id") {
		t.Errorf("expected client_id validation error, got %v", err)
	}
	if _, err := h.run("", "--demo", "status"); err != nil {
		t.Errorf("--demo should bypass client checks: %v", err)
	}
}

func TestKeyGenerate(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("", "key", "generate")
	if !strings.Contains(out, "Public key: age1") {
		t.Errorf("unexpected output:\n%s", out)
	}

	cfg, _ := config.Load(h.configPath, h.dir)
	if cfg.Encryption.Type != "age" {
		t.Errorf("encryption type = %q", cfg.Encryption.Type)
	}
	if _, err := os.Stat(cfg.Encryption.IdentityPath); err != nil {
		t.Errorf("identity file: %v", err)
	}
	if _, err := h.run("", "key", "generate"); err == nil {
		t.Error("an existing identity must not be overwritten")
	}
}

func TestOpen_EncryptedSQLite(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "config", "set", "demo", "true")
	h.mustRun("", "key", "generate")
	cfg, err := config.Load(h.configPath, h.dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx := context.Background()
	env, err := Open(ctx, cfg, h.dir, slog.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := env.State.SaveUser(ctx, model.UserProfile{ID: "u1", DisplayName: "Ada"}); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	env.Close()

	env, err = Open(ctx, cfg, h.dir, slog.Default())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer env.Close()
	u, err := env.State.User(ctx)
	if err != nil || u == nil || u.DisplayName != "Ada" {
		t.Fatalf("User() = %+v, %v", u, err)
	}

	raw, err := kv.OpenSQLite(cfg.Store.Path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer raw.Close()
	v, err := raw.Get(ctx, "gophsync:onedrive_user")
	if err != nil {
		t.Fatalf("raw Get() error = %v", err)
	}
	if v == "" || strings.Contains(v, "Ada") {
		t.Errorf("stored value %q is not an encrypted profile", v)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// connectHarness configures a OneDrive connection against fake backend and Graph servers.
func connectHarness(t *testing.T) *harness {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/onedrive/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600}`)
	}))
	t.Cleanup(backend.Close)

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"u-1","displayName":"Ada Lovelace","mail":"ada@example.com"}`)
	}))
	t.Cleanup(graphSrv.Close)

	h := newHarness(t)
	cfg := config.Default(h.dir)
	cfg.ClientID = "client-1"
	cfg.BackendURL = backend.URL
	cfg.RedirectURI = fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
	cfg.Graph.BaseURL = graphSrv.URL
	cfg.Graph.RatePerSecond = 0
	if err := config.Save(h.configPath, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return h
}

// redirectWith simulates the browser: it follows the authorization URL back to the
// loopback listener with the given query. Failures surface as a timeout in connect.
func redirectWith(query func(state string) url.Values) func(string) {
	return func(authURL string) {
		u, err := url.Parse(authURL)
		if err != nil {
			return
		}
		q := u.Query()
		resp, err := http.Get(q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode())
		if err != nil {
			return
		}
		resp.Body.Close()
	}
}

func TestConnect(t *testing.T) {
	h := connectHarness(t)
	h.openURL = redirectWith(func(state string) url.Values {
		return url.Values{"code": {"c-1"}, "state": {state}}
	})

	out := h.mustRun("", "connect", "--timeout", "10s")
	if !strings.Contains(out, "login.microsoftonline.com/common/oauth2/v2.0/authorize") {
		t.Errorf("auth URL not printed:\n%s", out)
	}
	if !strings.Contains(out, "Connected as Ada Lovelace <ada@example.com>.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	ctx := context.Background()
	rec, err := h.state().Token(ctx)
	if err != nil || rec == nil || rec.AccessToken != "at-1" || rec.RefreshToken != "rt-1" {
		t.Fatalf("Token() = %+v, %v", rec, err)
	}
	if d := time.Until(rec.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Errorf("expiry %v from now", d)
	}

	out = h.mustRun("", "status")
	if !strings.Contains(out, "Connection: connected") || !strings.Contains(out, "Ada Lovelace") {
		t.Errorf("status output:\n%s", out)
	}

	h.mustRun("", "disconnect")
	if out := h.mustRun("", "status"); !strings.Contains(out, "Connection: not connected") {
		t.Errorf("status after disconnect:\n%s", out)
	}
}

func TestConnect_StateMismatch(t *testing.T) {
	h := connectHarness(t)
	h.openURL = redirectWith(func(string) url.Values {
		return url.Values{"code": {"c-1"}, "state": {"forged"}}
	})

	_, err := h.run("", "connect", "--timeout", "10s")
	if !errors.Is(err, auth.ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if rec, _ := h.state().Token(context.Background()); rec != nil {
		t.Error("no token may be stored after a state mismatch")
	}
}

func TestConnect_Denied(t *testing.T) {
	h := connectHarness(t)
	h.openURL = redirectWith(func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "error_description": {"The user declined"}, "state": {state}}
	})

	_, err := h.run("", "connect", "--timeout", "10s")
	var denied *auth.AuthorizationDeniedError
	if !errors.As(err, &denied) || denied.Code != "access_denied" {
		t.Fatalf("expected AuthorizationDeniedError, got %v", err)
	}
}

func TestConnect_Timeout(t *testing.T) {
	h := connectHarness(t)
	_, err := h.run("", "connect", "--timeout", "50ms")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
