// Package app wires the backend: secrets, OAuth brokers and the API Gateway router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/handler"
	"github.com/jun/gophsync/internal/secret"
)

// Config is the backend configuration, normally read from the environment.
type Config struct {
	DevMode          bool
	FrontendURL      string
	DefaultProvider  string
	OneDriveTenant   string
	OneDriveClientID string
	OneDriveSecret   string
	GoogleClientID   string
	GoogleSecret     string
	APIGatewaySecret string
}

// App holds the dependencies for the Lambda function.
type App struct {
	cfg          Config
	tokenHandler *handler.TokenHandler
	logger       *slog.Logger
}

// NewApp reads the environment, resolves secrets from SSM (or the environment in
// DEV_MODE) and builds the App.
func NewApp(ctx context.Context) (*App, error) {
	logger := slog.Default()
	devMode := os.Getenv("DEV_MODE") == "true"

	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	cfg, err := ConfigFromEnv(ctx, resolver, logger)
	if err != nil {
		return nil, err
	}
	return New(cfg, nil, logger)
}

// ConfigFromEnv reads the environment and resolves the secrets it names. Secrets of
// providers without a client id are not looked up.
func ConfigFromEnv(ctx context.Context, resolver secret.Resolver, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Config{
		DevMode:          os.Getenv("DEV_MODE") == "true",
		FrontendURL:      envOr("FRONTEND_URL", "http://localhost:3000"),
		DefaultProvider:  envOr("DEFAULT_PROVIDER", auth.OneDrive),
		OneDriveTenant:   envOr("ONEDRIVE_TENANT_ID", "common"),
		OneDriveClientID: os.Getenv("ONEDRIVE_CLIENT_ID"),
		GoogleClientID:   os.Getenv("GOOGLE_CLIENT_ID"),
	}

	oneDriveParam := envOr("ONEDRIVE_CLIENT_SECRET_PARAM", "/gophsync/onedrive-client-secret")
	googleParam := envOr("GOOGLE_CLIENT_SECRET_PARAM", "/gophsync/google-client-secret")
	gatewayParam := envOr("API_GATEWAY_SECRET_PARAM", "/gophsync/api-gateway-secret")

	var names []string
	if cfg.OneDriveClientID != "" {
		names = append(names, oneDriveParam)
	}
	if cfg.GoogleClientID != "" {
		names = append(names, googleParam)
	}
	if !cfg.DevMode {
		names = append(names, gatewayParam)
	}

	values, err := secret.ResolveAll(ctx, resolver, names...)
	if err != nil {
		// missing secrets surface as unconfigured providers; New decides whether that is fatal
		logger.Warn("failed to resolve some secrets", "error", err)
	}
	cfg.OneDriveSecret = values[oneDriveParam]
	cfg.GoogleSecret = values[googleParam]
	cfg.APIGatewaySecret = values[gatewayParam]
	return cfg, nil
}

// New builds the App from cfg. It fails when the default provider lacks credentials.
// httpClient is used for token requests; nil uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := auth.LookupProvider(cfg.DefaultProvider, cfg.OneDriveTenant); !ok {
		return nil, fmt.Errorf("unknown default provider %q", cfg.DefaultProvider)
	}
	if !cfg.DevMode && cfg.APIGatewaySecret == "" {
		return nil, errors.New("API gateway secret is required outside DEV_MODE")
	}

	creds := map[string][2]string{
		auth.OneDrive:    {cfg.OneDriveClientID, cfg.OneDriveSecret},
		auth.GoogleDrive: {cfg.GoogleClientID, cfg.GoogleSecret},
	}
	brokers := make(map[string]handler.TokenBroker)
	for _, name := range auth.ProviderNames() {
		p, _ := auth.LookupProvider(name, cfg.OneDriveTenant)
		b, err := auth.NewBroker(p, creds[name][0], creds[name][1], httpClient)
		if err != nil {
			if name == cfg.DefaultProvider {
				return nil, fmt.Errorf("default provider %s: %w", name, err)
			}
			logger.Warn("provider disabled", "provider", name, "error", err)
			continue
		}
		brokers[name] = b
	}

	return &App{
		cfg:          cfg,
		tokenHandler: handler.NewTokenHandler(brokers, auth.ProviderNames(), cfg.FrontendURL, logger),
		logger:       logger,
	}, nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	app.logger.Info("Request", "method", method, "path", path)

	if method == http.MethodOptions {
		return app.cors(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	if !app.cfg.DevMode && handler.Header(req, "X-Origin-Verify") != app.cfg.APIGatewaySecret {
		app.logger.Warn("missing or invalid X-Origin-Verify header", "path", path)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	// CloudFront proxies the API under /api
	path = strings.TrimPrefix(path, "/api")

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	// /auth/{provider}/{action}
	if parts := strings.Split(strings.Trim(path, "/"), "/"); len(parts) == 3 && parts[0] == "auth" {
		req.PathParameters["provider"] = parts[1]
		switch {
		case parts[2] == "callback" && method == http.MethodGet:
			return app.cors(app.must(app.tokenHandler.Callback(ctx, req))), nil
		case parts[2] == "token" && method == http.MethodPost:
			return app.cors(app.must(app.tokenHandler.Exchange(ctx, req))), nil
		case parts[2] == "refresh" && method == http.MethodPost:
			return app.cors(app.must(app.tokenHandler.Refresh(ctx, req))), nil
		}
	}

	return app.cors(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// cors adds CORS headers to an API Gateway response.
func (app *App) cors(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must converts a handler error into a 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
