package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/adapter/googledrive"
	"github.com/jun/gophsync/internal/adapter/graph"
	"github.com/jun/gophsync/internal/adapter/memory"
	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/kv"
	"github.com/jun/gophsync/internal/lock"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/state"
	"github.com/jun/gophsync/internal/syncrun"
	"github.com/jun/gophsync/internal/token"
)

// Env holds every dependency a command needs. Open builds it from the configuration;
// Close releases what Open acquired.
type Env struct {
	Config   *config.Config
	BaseDir  string
	Logger   *slog.Logger
	Provider auth.Provider

	State  *state.Store
	Tokens *token.Manager // nil in demo mode
	Tree   adapter.RemoteTree
	Graph  *graph.Client // nil unless the provider is OneDrive

	aws     *aws.Config
	closers []func() error
}

// Profiler is implemented by trees that can report the signed-in account.
type Profiler interface {
	Me(ctx context.Context) (*model.UserProfile, error)
}

type openFunc func(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (*Env, error)

// Open builds an Env from cfg.
func Open(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (*Env, error) {
	env := &Env{Config: cfg, BaseDir: baseDir, Logger: logger}
	store, err := env.openStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	if err := env.wire(ctx, store); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// wire builds the state store, token manager and tree over store.
func (e *Env) wire(ctx context.Context, store kv.Store) error {
	cfg := e.Config
	provider, ok := auth.LookupProvider(cfg.Provider, cfg.Tenant)
	if !ok {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	e.Provider = provider
	e.State = state.New(store, provider.Name, e.Logger)

	if cfg.Demo {
		e.Tree = memory.Demo()
		return nil
	}

	opts := []token.Option{token.WithLogger(e.Logger)}
	locker, err := e.openLocker(ctx)
	if err != nil {
		return err
	}
	if locker != nil {
		opts = append(opts, token.WithLocker(locker))
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	backend := token.NewBackendClient(cfg.BackendURL, provider.Name, httpClient)
	e.Tokens = token.NewManager(e.State, backend, cfg.RedirectURI, opts...)

	switch provider.Name {
	case auth.OneDrive:
		gopts := []graph.Option{
			graph.WithLogger(e.Logger),
			graph.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
			graph.WithRateLimit(cfg.Graph.RatePerSecond, cfg.Graph.Burst),
		}
		if cfg.Graph.BaseURL != "" {
			gopts = append(gopts, graph.WithBaseURL(cfg.Graph.BaseURL))
		}
		e.Graph = graph.NewClient(e.Tokens, gopts...)
		e.Tree = e.Graph
	case auth.GoogleDrive:
		tree, err := googledrive.NewTree(ctx, e.Tokens, e.Logger)
		if err != nil {
			return err
		}
		e.Tree = tree
	}
	return nil
}

func (e *Env) openStore(ctx context.Context) (kv.Store, error) {
	var store kv.Store
	switch e.Config.Store.Type {
	case "memory":
		store = kv.NewMemoryStore()
	case "sqlite":
		s, err := kv.OpenSQLite(e.Config.Store.Path)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, s.Close)
		store = s
	case "dynamodb":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		store = kv.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), e.Config.Store.Table)
	default:
		return nil, fmt.Errorf("unknown store type %q", e.Config.Store.Type)
	}

	switch e.Config.Encryption.Type {
	case "", "none":
		return store, nil
	case "age":
		enc, err := crypto.LoadAgeEncryptor(e.Config.Encryption.IdentityPath)
		if err != nil {
			return nil, fmt.Errorf("%w (run \"gophsync key generate\")", err)
		}
		return kv.NewEncryptedStore(store, enc), nil
	case "kms":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return kv.NewEncryptedStore(store, crypto.NewKMSService(kms.NewFromConfig(awsCfg), e.Config.Encryption.KMSKeyID)), nil
	default:
		return nil, fmt.Errorf("unknown encryption type %q", e.Config.Encryption.Type)
	}
}

func (e *Env) openLocker(ctx context.Context) (lock.Locker, error) {
	switch e.Config.Lock.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return lock.NewMemoryLocker(), nil
	case "dynamodb":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return lock.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), e.Config.Lock.Table), nil
	default:
		return nil, fmt.Errorf("unknown lock type %q", e.Config.Lock.Type)
	}
}

// Sink builds the ingest sink selected by the sync configuration.
func (e *Env) Sink(ctx context.Context) (syncrun.Sink, error) {
	switch e.Config.Sync.Sink {
	case "", "discard":
		return syncrun.DiscardSink{}, nil
	case "dir":
		return syncrun.DirSink{Root: e.Config.Sync.Dir}, nil
	case "s3":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return syncrun.NewS3Sink(s3.NewFromConfig(awsCfg), e.Config.Sync.S3Bucket, e.Config.Sync.S3Prefix), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", e.Config.Sync.Sink)
	}
}

// Connected reports whether the tree can be used.
func (e *Env) Connected(ctx context.Context) bool {
	return e.Tokens == nil || e.Tokens.IsConnected(ctx)
}

func (e *Env) awsConfig(ctx context.Context) (aws.Config, error) {
	if e.aws != nil {
		return *e.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	e.aws = &cfg
	return cfg, nil
}

func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}
