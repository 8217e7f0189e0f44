package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"edurag/internal/logging"
	"edurag/internal/watcher"
)

func cmdIndex(e *env) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Index the story, song and activity directories",
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			stats, err := svc.InitializeLibrary(ctx)
			if err != nil {
				return goerr.Wrap(err, "library indexing failed")
			}
			fmt.Printf("Indexed %d chunks: %d stories, %d songs, %d activities\n",
				stats.Total(), stats.Stories, stats.Songs, stats.Activities)
			return nil
		},
	}
}

func cmdIndexUser(e *env) *cli.Command {
	return &cli.Command{
		Name:  "index-user",
		Usage: "Replace a user's indexed plan and diagnostic",
		Flags: []cli.Flag{
			userFlag(true),
			&cli.StringFlag{Name: "plan", Usage: "Plan text file", Required: true},
			&cli.StringFlag{Name: "diagnostic", Usage: "Group diagnostic text file"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			plan, err := readDocument(c.String("plan"))
			if err != nil {
				return err
			}
			diag, err := readOptionalDocument(c.String("diagnostic"))
			if err != nil {
				return err
			}

			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			planChunks, diagChunks, err := svc.IndexUserDocuments(ctx, c.String("user"), plan, diag)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d plan chunks and %d diagnostic chunks\n", planChunks, diagChunks)
			return nil
		},
	}
}

func cmdStats(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show index statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			stats, err := svc.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Collection: %s\nBackend:    %s\nEmbedder:   %s (%d dims)\nEntries:    %d\n",
				stats.Collection, stats.Backend, stats.Embedder, stats.Dimension, stats.Entries)
			return nil
		},
	}
}

func cmdReset(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete every entry of the collection",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the reset"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if !c.Bool("yes") {
				return goerr.New("reset deletes the whole collection, pass --yes to confirm")
			}
			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			if err := svc.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("Collection reset")
			return nil
		},
	}
}

func cmdWatch(e *env) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Reindex library files as they change",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "index", Usage: "Index the whole library before watching"},
			&cli.DurationFlag{Name: "debounce", Usage: "Quiet period before a changed file is reindexed", Value: watcher.DefaultDebounce},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			if c.Bool("index") {
				if _, err := svc.InitializeLibrary(ctx); err != nil {
					return goerr.Wrap(err, "library indexing failed")
				}
			}

			w, err := watcher.New(ctx, svc,
				watcher.WithRecursive(e.cfg.Library.Recursive),
				watcher.WithDebounce(c.Duration("debounce")))
			if err != nil {
				return err
			}
			defer func() {
				if err := w.Close(); err != nil {
					logging.From(ctx).Warn("failed to close watcher", logging.ErrAttr(err))
				}
			}()

			logging.From(ctx).Info("watching library", slog.Any("dirs", svc.LibraryDirs()))
			return w.Run(ctx)
		},
	}
}
