package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"edurag/internal/config"
	"edurag/internal/logging"
	"edurag/internal/service"
)

// env carries what the root command resolved for its subcommands.
type env struct {
	cfg *config.AppConfig
}

func (e *env) open(ctx context.Context) (*service.Service, error) {
	if e.cfg == nil {
		return nil, goerr.New("configuration not loaded")
	}
	return service.Build(ctx, e.cfg)
}

func run(ctx context.Context, args []string) error {
	var (
		configPath string
		logLevel   string
		logFormat  string
		e          env
	)

	app := &cli.Command{
		Name:    "edurag",
		Usage:   "Retrieval-augmented lesson plan generation over a children's library",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to YAML config file (defaults to ./edurag.yaml, then ~/.config/edurag/config.yaml)",
				Sources:     cli.EnvVars("EDURAG_CONFIG"),
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("EDURAG_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Sources:     cli.EnvVars("EDURAG_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, path, err := loadConfig(configPath)
			if err != nil {
				return ctx, err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return ctx, err
			}
			logging.SetDefault(logger)
			logger.Debug("configuration loaded", slog.String("path", path), slog.Any("config", cfg))
			e.cfg = cfg
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			cmdIndex(&e),
			cmdIndexUser(&e),
			cmdRetrieve(&e),
			cmdGenerate(&e),
			cmdVerify(&e),
			cmdSessions(&e),
			cmdStats(&e),
			cmdReset(&e),
			cmdWatch(&e),
			cmdExplore(&e),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run edurag", logging.ErrAttr(err))
		return err
	}
	return nil
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path == "" {
		return config.LoadDefault()
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func readDocument(path string) (service.UserDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.UserDocument{}, goerr.Wrap(err, "failed to read document", goerr.V("path", path))
	}
	return service.UserDocument{Filename: filepath.Base(path), Data: data}, nil
}

func readOptionalDocument(path string) (*service.UserDocument, error) {
	if path == "" {
		return nil, nil
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func closeService(ctx context.Context, svc *service.Service) {
	if err := svc.Close(); err != nil {
		logging.From(ctx).Warn("failed to close service", logging.ErrAttr(err))
	}
}

func userFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User id owning the plan and diagnostic",
		Sources:  cli.EnvVars("EDURAG_USER"),
		Required: required,
	}
}

func nTotalFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "n-total",
		Usage: "Total library results to retrieve (0 uses the configured budget)",
	}
}
