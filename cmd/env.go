package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/artifact"
	"github.com/sells-group/mineguard/internal/config"
	"github.com/sells-group/mineguard/internal/db"
	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/engine"
	"github.com/sells-group/mineguard/internal/raster"
	"github.com/sells-group/mineguard/internal/resilience"
	"github.com/sells-group/mineguard/internal/store"
	"github.com/sells-group/mineguard/pkg/compute"
)

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "mineguard.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &db.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initEvaluator builds the raster evaluator for the configured engine. The
// remote engine also returns the credential provider as the connector, so
// every run starts by proving it has a session.
func initEvaluator(c config.ComputeConfig) (raster.Evaluator, detect.Connector, error) {
	switch c.Engine {
	case "local":
		catalog, err := engine.LoadManifest(c.Scenes)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("using local engine", zap.String("scenes", c.Scenes), zap.Strings("collections", catalog.Collections()))
		return engine.New(catalog), nil, nil
	case "remote":
		provider := newProvider(c)
		opts := []compute.Option{
			compute.WithGuard(resilience.NewGuard(c)),
		}
		if c.BaseURL != "" {
			opts = append(opts, compute.WithBaseURL(c.BaseURL))
		}
		if c.RequestsPerSecond > 0 {
			opts = append(opts, compute.WithRateLimit(c.RequestsPerSecond, c.Burst))
		}
		if c.TimeoutSecs > 0 {
			opts = append(opts, compute.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second))
		}
		return compute.NewClient(c.Project, provider, opts...), provider, nil
	default:
		return nil, nil, eris.Errorf("unsupported compute engine: %s", c.Engine)
	}
}

// newProvider orders the credential strategies: explicit key file,
// GOOGLE_APPLICATION_CREDENTIALS, host login, then a static token.
func newProvider(c config.ComputeConfig) *compute.Provider {
	var strategies []compute.Strategy
	if c.KeyPath != "" {
		strategies = append(strategies, compute.KeyFile{Path: expandHome(c.KeyPath)})
	}
	strategies = append(strategies, compute.ApplicationDefault{})
	if c.HostCredentialsPath != "" {
		strategies = append(strategies, compute.HostCredentials{Path: expandHome(c.HostCredentialsPath)})
	}
	if c.Token != "" {
		strategies = append(strategies, compute.StaticToken(c.Token))
	}
	return compute.NewProvider(strategies...)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func newRenderers(c config.ArtifactsConfig) detect.Renderers {
	var r detect.Renderers
	if c.Map {
		r.Map = artifact.Map{}
	}
	if c.Model {
		r.Model = artifact.Model{}
	}
	if c.Report {
		r.Report = artifact.Report{}
	}
	if c.Export {
		r.Export = artifact.Export{}
	}
	return r
}

// initDetector wires a Detector from the loaded config.
func initDetector(c *config.Config) (*detect.Detector, error) {
	eval, connector, err := initEvaluator(c.Compute)
	if err != nil {
		return nil, err
	}
	opts := []detect.Option{
		detect.WithRenderers(newRenderers(c.Artifacts)),
		detect.WithOutputDir(c.Artifacts.OutputDir),
	}
	if connector != nil {
		opts = append(opts, detect.WithConnector(connector))
	}
	return detect.New(eval, detect.ParamsFromConfig(c.Detection), opts...), nil
}
