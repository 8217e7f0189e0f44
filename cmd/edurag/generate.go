package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"edurag/internal/domain"
	"edurag/internal/indexer"
	"edurag/internal/metrics"
	"edurag/internal/prompt"
	"edurag/internal/retriever"
	"edurag/internal/service"
)

func cmdRetrieve(e *env) *cli.Command {
	return &cli.Command{
		Name:      "retrieve",
		Usage:     "Show the library resources retrieved for a plan",
		ArgsUsage: "[query text]",
		Flags: []cli.Flag{
			userFlag(false),
			nTotalFlag(),
			&cli.StringFlag{Name: "plan", Usage: "Plan text file used as the query"},
			&cli.StringFlag{Name: "diagnostic", Usage: "Group diagnostic text file"},
			&cli.BoolFlag{Name: "context", Usage: "Print the generator context block instead of the ranking"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			q := retriever.Query{
				PlanText: strings.Join(c.Args().Slice(), " "),
				UserID:   c.String("user"),
				NTotal:   int(c.Int("n-total")),
			}
			if path := c.String("plan"); path != "" {
				doc, err := readDocument(path)
				if err != nil {
					return err
				}
				q.PlanText = indexer.DecodeText(doc.Data)
			}
			if path := c.String("diagnostic"); path != "" {
				doc, err := readDocument(path)
				if err != nil {
					return err
				}
				q.DiagnosticText = indexer.DecodeText(doc.Data)
			}
			if strings.TrimSpace(q.Text()) == "" {
				return goerr.New("query text or --plan is required")
			}

			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			r, err := svc.Retrieve(ctx, q)
			if err != nil {
				return err
			}
			if c.Bool("context") {
				fmt.Println(svc.BuildContext(r))
				return nil
			}
			printRanking(svc, "STORIES", r.Stories)
			printRanking(svc, "SONGS", r.Songs)
			printRanking(svc, "ACTIVITIES", r.Activities)
			if q.UserID != "" {
				printRanking(svc, "YOUR PLAN", r.UserPlan)
				printRanking(svc, "YOUR DIAGNOSTIC", r.UserDiagnostic)
			}
			return nil
		},
	}
}

func printRanking(svc *service.Service, title string, results []domain.RetrievalResult) {
	fmt.Printf("=== %s (%d) ===\n", title, len(results))
	for i, r := range results {
		fmt.Printf("%2d. %s #%d  %.1f%% (%s)\n", i+1, r.Chunk.Filename, r.Chunk.ChunkID, r.Similarity*100, svc.Level(r.Similarity))
		preview := strings.Join(strings.Fields(prompt.Truncate(r.Chunk.Text, 160)), " ")
		fmt.Printf("    %s\n", preview)
	}
	fmt.Println()
}

func cmdGenerate(e *env) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a lesson plan enriched with library resources",
		Flags: []cli.Flag{
			userFlag(true),
			nTotalFlag(),
			&cli.StringFlag{Name: "plan", Usage: "Plan text file", Required: true},
			&cli.StringFlag{Name: "diagnostic", Usage: "Group diagnostic text file"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the plan JSON to this file instead of stdout"},
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

			res, err := svc.GeneratePlan(ctx, service.GenerateRequest{
				UserID:     c.String("user"),
				Plan:       plan,
				Diagnostic: diag,
				NTotal:     int(c.Int("n-total")),
			})
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(res.Plan, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to encode plan")
			}
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return goerr.Wrap(err, "failed to write plan", goerr.V("path", out))
				}
			} else {
				fmt.Println(string(data))
			}
			fmt.Fprint(os.Stderr, res.Session.Report())
			return nil
		},
	}
}

func cmdVerify(e *env) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Re-analyze a generated plan against a fresh retrieval",
		ArgsUsage: "<plan.json>",
		Flags: []cli.Flag{
			nTotalFlag(),
			&cli.StringFlag{Name: "source", Usage: "Original plan text file used as the query (defaults to the plan's own titles)"},
			&cli.StringFlag{Name: "diagnostic", Usage: "Group diagnostic text file"},
			&cli.FloatFlag{Name: "threshold", Usage: "Similarity threshold for highly relevant resources (0 uses the configured value)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one plan.json argument is required")
			}
			path := c.Args().First()
			data, err := os.ReadFile(path)
			if err != nil {
				return goerr.Wrap(err, "failed to read plan", goerr.V("path", path))
			}
			plan, err := service.DecodePlan(data)
			if err != nil {
				return goerr.Wrap(err, "invalid plan file", goerr.V("path", path))
			}

			q := retriever.Query{PlanText: service.PlanQueryText(plan), NTotal: int(c.Int("n-total"))}
			if src := c.String("source"); src != "" {
				doc, err := readDocument(src)
				if err != nil {
					return err
				}
				q.PlanText = indexer.DecodeText(doc.Data)
			}
			if diagPath := c.String("diagnostic"); diagPath != "" {
				doc, err := readDocument(diagPath)
				if err != nil {
					return err
				}
				q.DiagnosticText = indexer.DecodeText(doc.Data)
			}

			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			r, err := svc.Retrieve(ctx, q)
			if err != nil {
				return err
			}
			var report domain.ImpactReport
			if th := c.Float("threshold"); th > 0 {
				report = svc.AnalyzeWithThreshold(plan, r, th)
			} else {
				report = svc.Analyze(plan, r)
			}
			fmt.Printf("Plan: %s (%d modules)\n", plan.Name, len(plan.Modules))
			fmt.Print(metrics.ImpactReport(report))
			return nil
		},
	}
}

func cmdSessions(e *env) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List a user's past generation sessions",
		Flags: []cli.Flag{
			userFlag(true),
			&cli.BoolFlag{Name: "full", Usage: "Print the full report of every session"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			sessions, err := svc.Sessions(ctx, c.String("user"))
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions")
				return nil
			}
			for _, s := range sessions {
				if c.Bool("full") {
					fmt.Print(s.Report())
					fmt.Println()
					continue
				}
				usage := "N/A"
				if s.Impact != nil {
					usage = fmt.Sprintf("%.1f%%", s.Impact.UsagePercentage)
				}
				fmt.Printf("%s  %s  %-30s  usage %s\n",
					s.StartedAt.Format("2006-01-02 15:04"), s.ID, s.PlanFilename, usage)
			}
			return nil
		},
	}
}
