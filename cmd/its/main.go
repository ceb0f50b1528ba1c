package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"itersight/internal/classify"
	"itersight/internal/config"
	"itersight/internal/db"
	"itersight/internal/events"
	"itersight/internal/lookup"
	"itersight/internal/migrate"
	"itersight/internal/narrative"
	"itersight/internal/repo"
	"itersight/internal/report"
	"itersight/internal/server"
	"itersight/internal/stats"
	"itersight/internal/tracker"
	itersightsdk "itersight/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "its",
	Short: "Itersight CLI",
	Long: `Itersight turns iteration tracker data into statistics and narrative reports.
- stats: status breakdowns of an iteration's stories by category, owner, or team
- report generate: stream a multi-stage narrative report generation
- report history: the most recent stored reports for an iteration
- serve: the HTTP API backing all of the above`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ITERSIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(teamsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func parseIterationID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("iteration id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid iteration id %q", args[0])
	}
	return id, nil
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stats", Short: "Iteration status breakdowns"}
	cmd.AddCommand(statsCategoryCmd())
	cmd.AddCommand(statsTeamsCmd())
	cmd.AddCommand(statsOwnersCmd())
	return cmd
}

func statsCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category <iteration_id>",
		Short: "Status breakdown by label category",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIterationID(args)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tc *tracker.Client, _ *config.Config) error {
				stories, err := tc.IterationStories(ctx, id)
				if err != nil {
					return err
				}
				rules := classify.Default()
				buckets := stats.StatusByCategory(stories, rules)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"iteration_id": id,
						"metrics":      stats.MetricsFor(stories, rules),
						"buckets":      buckets,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Completed", "In Motion", "Not Started", "Total"})
				for _, b := range buckets {
					tw.AppendRow(table.Row{b.Key, b.Completed, b.InMotion, b.NotStarted, b.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsTeamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams <iteration_id>",
		Short: "Status breakdown by canonical team",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIterationID(args)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tc *tracker.Client, _ *config.Config) error {
				stories, err := tc.IterationStories(ctx, id)
				if err != nil {
					return err
				}
				resolver := lookup.NewCache(tracker.Resolver{Client: tc})
				buckets := stats.TeamBreakdown(ctx, stories, classify.Default(), resolver)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"iteration_id": id, "teams": buckets})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Team", "Completed", "In Motion", "Not Started", "Total"})
				for _, b := range buckets {
					tw.AppendRow(table.Row{b.Name, b.Status.Completed, b.Status.InMotion, b.Status.NotStarted, b.Status.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsOwnersCmd() *cobra.Command {
	var sortBy string
	var desc bool
	cmd := &cobra.Command{
		Use:   "owners <iteration_id>",
		Short: "Per-owner work-type breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIterationID(args)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tc *tracker.Client, _ *config.Config) error {
				stories, err := tc.IterationStories(ctx, id)
				if err != nil {
					return err
				}
				resolver := lookup.NewCache(tracker.Resolver{Client: tc})
				rows := stats.OwnerBreakdown(ctx, stories, classify.Default(), resolver)
				stats.SortOwnerRows(rows, stats.SortKey(sortBy), desc)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"iteration_id": id, "owners": rows})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Owner", "Team", "Feature", "Defect", "Foundational", "Other", "Completed"})
				for _, r := range rows {
					tw.AppendRow(table.Row{
						r.OwnerName, r.TeamName,
						len(r.FeatureWork), len(r.DefectWork), len(r.FoundationalWork), len(r.Other), len(r.Completed),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "owner", "sort column (owner, team, feature_work, defect_work, foundational_work, other, completed)")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Narrative reports"}
	cmd.AddCommand(reportGenerateCmd())
	cmd.AddCommand(reportHistoryCmd())
	cmd.AddCommand(reportShowCmd())
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report_id>",
		Short: "Print one stored report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("report id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("report %s (iteration %d, generated %s)\n\n", rep.ID, rep.IterationID, rep.GeneratedAt)
				fmt.Println(rep.Report)
				return nil
			})
		},
	}
	return cmd
}

func teamsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "teams", Short: "Tracker teams"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracker groups in report order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tc *tracker.Client, _ *config.Config) error {
				groups, err := tc.Groups(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(groups))
				byName := make(map[string]string, len(groups))
				for _, g := range groups {
					names = append(names, g.DisplayName)
					byName[g.DisplayName] = g.ID
				}
				classify.SortTeamNames(names)
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Team", "Canonical", "ID"})
				for _, n := range names {
					tw.AppendRow(table.Row{n, classify.CanonicalTeamName(n), byName[n]})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "members",
		Short: "List tracker members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tc *tracker.Client, _ *config.Config) error {
				members, err := tc.Members(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "ID"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.DisplayName, m.ID})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	var limit int
	var iteration int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent report lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, limit, iteration)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Iteration", "Entity"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.TS, e.Type, e.IterationID, e.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	tail.Flags().Int64Var(&iteration, "iteration", 0, "filter by iteration id")
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(tail)
	return cmd
}

func reportGenerateCmd() *cobra.Command {
	var serverURL string
	var teams []string
	cmd := &cobra.Command{
		Use:   "generate <iteration_id>",
		Short: "Generate a narrative report, streaming progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIterationID(args)
			if err != nil {
				return err
			}
			client := itersightsdk.New(serverURL + "/v0")
			client.BearerToken = os.Getenv("ITERSIGHT_API_TOKEN")

			stageColor := color.New(color.FgCyan)
			teamColor := color.New(color.FgYellow)
			result, err := client.GenerateReport(cmd.Context(), id, itersightsdk.GenerateOptions{
				SelectedTeams: teams,
			}, func(p itersightsdk.Progress) {
				if p.TeamName != "" {
					stageColor.Printf("%s ", p.Stage)
					teamColor.Printf("%s", p.TeamName)
					fmt.Printf(" (%d/%d)\n", p.Current, p.Total)
					return
				}
				stageColor.Println(p.Stage)
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(result)
			}
			color.New(color.FgGreen).Printf("\nreport generated at %s\n\n", result.GeneratedAt)
			fmt.Println(result.Report)
			fmt.Printf("\ntotal %d, completed %d (%d%%), in motion %d, not started %d\n",
				result.Metrics.Total, result.Metrics.Completed, result.Metrics.CompletedPercent,
				result.Metrics.InMotion, result.Metrics.NotStarted)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "itersight server URL")
	cmd.Flags().StringSliceVar(&teams, "team", nil, "restrict narration to these teams (repeatable)")
	return cmd
}

func reportHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <iteration_id>",
		Short: "List stored reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIterationID(args)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				reports, err := r.ListReports(ctx, id, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Generated At", "Total", "Completed", "Teams"})
				for _, rep := range reports {
					tw.AppendRow(table.Row{rep.ID, rep.GeneratedAt, rep.Metrics.Total, rep.Metrics.Completed, len(rep.TeamMetrics)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of reports")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage itersight.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default itersight.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate itersight.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			tc := tracker.New(cfg.Tracker.BaseURL, cfg.TrackerToken())
			resolver := lookup.NewCache(tracker.Resolver{Client: tc})

			var gen narrative.Generator = narrative.Template{}
			if key := cfg.LLMAPIKey(); key != "" {
				gen = narrative.NewChat(cfg.LLM.BaseURL, cfg.LLM.Model, key)
			}
			eng := report.NewEngine(r, events.Writer{DB: conn}, gen, resolver)

			handler, err := server.New(server.Config{
				Repo:         r,
				Engine:       eng,
				Tracker:      tc,
				Resolver:     resolver,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: cfg.JWTSecret()},
				HistoryLimit: cfg.HistoryLimit(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Itersight API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withTracker(ctx context.Context, fn func(context.Context, *tracker.Client, *config.Config) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	tc := tracker.New(cfg.Tracker.BaseURL, cfg.TrackerToken())
	return fn(ctx, tc, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
