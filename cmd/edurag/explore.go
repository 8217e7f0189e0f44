package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"edurag/internal/tui"
)

func cmdExplore(e *env) *cli.Command {
	return &cli.Command{
		Name:  "explore",
		Usage: "Interactively explore library retrieval",
		Flags: []cli.Flag{
			userFlag(false),
			nTotalFlag(),
		},
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
			summary := fmt.Sprintf("%s: %d entries (%s, %s)", stats.Collection, stats.Entries, stats.Backend, stats.Embedder)
			m := tui.New(ctx, svc, c.String("user"), int(c.Int("n-total")), summary)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}
