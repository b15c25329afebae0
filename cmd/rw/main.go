package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rekenwolk/internal/app"
	"rekenwolk/internal/config"
	"rekenwolk/internal/db"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/poller"
	"rekenwolk/internal/repo"
	"rekenwolk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rw",
	Short: "Rekenwolk CLI",
	Long: `Rekenwolk orkestreert de calculatiepijplijn voor bouwprojecten.
Kernbegrippen:
- Workspace: de .rekenwolk map met de SQLite database; configuratie staat in rekenwolk.yml.
- Project: een bouwproject (nieuwbouw of verbouw) met adresgegevens en documenten.
- Run: een calculatierun die de pijplijn doorloopt: project_scan -> generate_stabu -> start_rekenwolk -> ... -> finalize_rekenwolk.
- Taken: executor-taken in de wachtrij; de poller claimt en verwerkt ze een voor een.
- Rapporten: aannames-, risico- en eindrapporten plus planning, NEN-analyse en funderingscheck.
- Event log: het journaal van alles wat gebeurde, bekijk met 'rw log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("REKENWOLK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectAddDocumentCmd())
	return prj
}

func projectAddDocumentCmd() *cobra.Command {
	var projectID, bestandsnaam, soort string
	cmd := &cobra.Command{
		Use:   "add-document",
		Short: "Register a project document",
		Long:  "Registreert een document bij het project; project_scan telt geregistreerde documenten mee in het scanresultaat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
					return err
				}
				id := uuid.New().String()
				createdAt := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.InsertProjectDocument(ctx, id, projectID, bestandsnaam, soort, createdAt); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":           id,
					"project_id":   projectID,
					"bestandsnaam": bestandsnaam,
					"soort":        soort,
				})
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&bestandsnaam, "bestandsnaam", "", "file name")
	cmd.Flags().StringVar(&soort, "soort", "pdf", "document kind")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("bestandsnaam")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var p domain.Project
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateProject(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "project id (optional)")
	cmd.Flags().StringVar(&p.Naam, "naam", "", "project name")
	cmd.Flags().StringVar(&p.Adres, "adres", "", "address")
	cmd.Flags().StringVar(&p.Plaatsnaam, "plaatsnaam", "", "city")
	cmd.Flags().StringVar(&p.ProjectType, "type", "", "project type (nieuwbouw, verbouw)")
	_ = cmd.MarkFlagRequired("naam")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Naam", "Plaats", "Type", "Aangemaakt"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Naam, p.Plaatsnaam, p.ProjectType, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Manage calculation runs",
		Long:  "Een run start de pijplijn voor een project. Per project draait hooguit een actieve run; een tweede start levert already_running op.",
	}
	run.AddCommand(runStartCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	return run
}

func runStartCmd() *cobra.Command {
	var opts engine.StartOptions
	var fixedPrice float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a calculation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("fixed-price") {
				opts.FixedPrice = &fixedPrice
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StartCalculation(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"calculation_run_id": res.Run.ID,
						"status":             res.Status,
					})
				}
				fmt.Printf("Run %s: %s\n", res.Run.ID, res.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.ScenarioName, "scenario", "", "scenario name")
	cmd.Flags().StringVar(&opts.CalculationType, "type", "", "calculation type")
	cmd.Flags().StringVar(&opts.CalculationLevel, "level", "", "calculation level")
	cmd.Flags().Float64Var(&fixedPrice, "fixed-price", 0, "fixed sale price override")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runListCmd() *cobra.Command {
	var projectID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calculation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListRuns(ctx, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Status", "Stap", "Aangemaakt"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.ProjectID, r.Status, r.CurrentStep, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a calculation run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Repo.GetCalculationRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage executor tasks",
		Long:  "Taken staan in de executor-wachtrij en worden door de poller in volgorde van aanmaak verwerkt.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEnqueueCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executor tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actie", "Status", "Run", "Aangemaakt"})
				for _, t := range tasks {
					runID := ""
					if t.CalculationRunID != nil {
						runID = *t.CalculationRunID
					}
					tw.AppendRow(table.Row{t.ID, t.Action, t.Status, runID, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.CalculationRunID, "run", "", "calculation run filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an executor task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskEnqueueCmd() *cobra.Command {
	var projectID, action, payloadJSON string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue an ad hoc task",
		Long:  "Zet losse stages als foundation_check of nen_analysis in de wachtrij zonder volledige run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid payload json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.EnqueueTask(ctx, projectID, action, nil, payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&action, "action", "", "action name")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "payload JSON")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Inspect generated reports",
	}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportPlanningCmd())
	rep.AddCommand(reportNenCmd())
	rep.AddCommand(reportFoundationCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reports, err := e.Repo.ListReports(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Status", "PDF", "Aangemaakt"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.ReportType, r.Status, r.PdfURL, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func reportShowCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "show <type>",
		Short: "Show a report (calculatie, assumptions, risk, final)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Repo.GetReport(ctx, projectID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func reportPlanningCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "planning",
		Short: "Show project planning phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				calc, err := e.Repo.LatestCalculationForProject(ctx, projectID)
				if err != nil {
					return err
				}
				phases, err := e.Repo.ListPlanning(ctx, calc.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Fase", "Hoeveelheid", "Duur (dagen)"})
				for _, p := range phases {
					tw.AppendRow(table.Row{p.Fase, p.Hoeveelheid, p.DuurDagen})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func reportNenCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "nen",
		Short: "Show NEN analysis results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, err := e.Repo.ListNenResults(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Norm", "Resultaat", "Score", "Toelichting"})
				for _, n := range results {
					tw.AppendRow(table.Row{n.NenCode, n.Resultaat, n.Score, n.Toelichting})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func reportFoundationCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "foundation",
		Short: "Show foundation check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				check, err := e.Repo.GetFoundationCheck(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(check)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				stages, err := e.Repo.ListStageLog(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id":  p.ID,
						"task_counts": counts,
						"stages":      stages,
					})
				}
				fmt.Printf("Project: %s (%s)\n", p.Naam, p.ID)
				fmt.Println("Taken:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Stages:")
				for _, s := range stages {
					finished := "-"
					if s.FinishedAt != nil {
						finished = *s.FinishedAt
					}
					fmt.Printf("  %s: %s (%s -> %s)\n", s.Module, s.Status, s.StartedAt, finished)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Configuratie staat in rekenwolk.yml: poller-interval, actieve runstatussen, PDF-renderer en webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default rekenwolk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func pollCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the task poller",
		Long:  "De poller claimt telkens de oudste open taak en voert de bijbehorende stage uit. Met --once verwerkt hij een enkele tick.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := poller.New(e)
				if once {
					p.Tick(ctx)
					return nil
				}
				p.Run(ctx)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single tick and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noPoller bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              e.Config.Auth.JWTSecret,
				AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
			}
			if secret := os.Getenv("REKENWOLK_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("REKENWOLK_JWT_SECRET is required when legacy actor auth is disabled")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if !noPoller {
				go poller.New(e).Run(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Rekenwolk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noPoller, "no-poller", false, "serve the API without the task poller")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := repo.NewAPIKeySecret()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": raw})
				}
				fmt.Printf("API key %s created. Secret (shown once): %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Naam", "Aangemaakt"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
