package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"gateflow/internal/app"
	"gateflow/internal/config"
	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/engine"
	"gateflow/internal/migrate"
	"gateflow/internal/queue"
	"gateflow/internal/repo"
	"gateflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gf",
	Short: "Gateflow CLI",
	Long: `Gateflow moves municipal innovation records through configurable approval gates.
- Registry: entity types (Challenge, Pilot, Solution, Program, RDProject), their stages and the gates between them.
- Gate: a checkpoint with a requester self-check, a reviewer checklist, a decision map and an SLA.
- Workflow: one entity's position in its lifecycle; every write carries a version for optimistic locking.
- SLA sweep: raises the escalation level of overdue gates and alerts leadership at the top level.
- Queue: open gates, most urgent first.
- Event log: append-only history of every change, view with 'gf log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(viper.GetString("log-level"), viper.GetString("log-format")))
		if viper.GetString("db-driver") == "" || viper.GetString("db-driver") == string(db.SQLite) {
			if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
				return err
			}
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.StringSlice("roles", nil, "actor roles (comma separated)")
	flags.String("db-driver", "sqlite", "database driver (sqlite, postgres)")
	flags.String("db-dsn", "", "database DSN (postgres)")
	flags.String("registry", "", "registry config id")
	flags.String("registry-file", "", "registry YAML file to load and store")
	flags.String("openai-api-key", "", "API key for the openai advisory provider")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "json", "actor-id", "roles", "db-driver", "db-dsn", "registry",
		"registry-file", "openai-api-key", "log-level", "log-format", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "registry", Short: "Manage the entity and gate registry"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(a.Config)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity type", "Stage", "Gate", "Next", "Terminal"})
				for _, et := range a.Registry.EntityTypes() {
					for _, st := range et.Stages {
						tw.AppendRow(table.Row{et.Name, st.ID, st.GateID, st.Next, yesNo(st.Terminal)})
					}
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(registryValidateCmd())
	cmd.AddCommand(registryImportCmd())
	cmd.AddCommand(registryMaturityCmd())
	return cmd
}

func registryValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a registry file (defaults to the workspace gateflow.yml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				res := map[string]any{"valid": err == nil}
				if err != nil {
					res["error"] = err.Error()
				}
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Println("registry is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "registry YAML file")
	return cmd
}

func registryImportCmd() *cobra.Command {
	var file, id string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a registry file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			if id == "" {
				id = cfg.Registry.ID
			}
			if id == "" {
				id = app.DefaultRegistryID
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertRegistryConfig(ctx, id, cfg); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"registry_id": id, "entity_types": len(cfg.EntityTypes), "gates": len(cfg.Gates)})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "registry YAML file")
	cmd.Flags().StringVar(&id, "id", "", "registry id (defaults to registry.id of the file)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func registryMaturityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maturity",
		Short: "Score how completely each gate is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reports := a.Registry.Maturity()
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Gate", "Entity types", "Self-check", "Reviewer", "SLA", "Advisory", "Score", "Low"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.GateID, strings.Join(r.EntityTypes, ","), yesNo(r.HasSelfCheck), yesNo(r.HasReviewerList),
						yesNo(r.HasSLA), yesNo(r.HasAdvisory), r.Score, yesNo(r.LowMaturity)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Manage entity workflows"}
	cmd.AddCommand(workflowEnrollCmd())
	cmd.AddCommand(workflowShowCmd())
	cmd.AddCommand(workflowListCmd())
	cmd.AddCommand(workflowTransitionCmd())
	cmd.AddCommand(workflowHistoryCmd())
	return cmd
}

func workflowEnrollCmd() *cobra.Command {
	var opts engine.EnrollOptions
	cmd := &cobra.Command{
		Use:   "enroll <entity-type> <entity-id>",
		Short: "Start tracking an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EntityType, opts.EntityID = args[0], args[1]
			opts.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wf, err := a.Engine.Enroll(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner (defaults to the actor)")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "starting stage (defaults to the first stage)")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-type> <entity-id>",
		Short: "Show the workflow of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wf, err := a.Engine.Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
}

func workflowListCmd() *cobra.Command {
	var f repo.WorkflowFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enrolled workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity", "Stage", "Status", "Owner", "Gate open", "Version", "Updated"})
				for _, wf := range items {
					tw.AppendRow(table.Row{wf.EntityType + "/" + wf.EntityID, wf.Stage, wf.Status, wf.OwnerID,
						yesNo(wf.OpenGateID != nil), wf.Version, wf.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "active or completed")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func workflowTransitionCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "transition <entity-type> <entity-id>",
		Short: "Leave a gate-less stage for its configured successor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wf, err := a.Engine.Transition(ctx, engine.TransitionOptions{
					EntityType: args[0], EntityID: args[1], Actor: currentActor(), ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the workflow is at this version")
	return cmd
}

func workflowHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity-type> <entity-id>",
		Short: "Show the gates and events of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gates, err := a.Engine.History(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					evts, err := a.Engine.AuditTrail(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"gates": gates, "events": evts})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Gate", "Stage", "Status", "Opened", "Decision", "By", "Next"})
				for _, g := range gates {
					decision := ""
					if g.Decision != nil {
						decision = string(*g.Decision)
					}
					tw.AppendRow(table.Row{g.GateID, g.Stage, g.Status, g.OpenedAt.Format(time.RFC3339), decision, g.DecidedBy, g.NextStage})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func gateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "gate", Short: "Work with the open gate of an entity"}
	cmd.AddCommand(gateOpenCmd())
	cmd.AddCommand(gateShowCmd())
	cmd.AddCommand(gateSelfCheckCmd())
	cmd.AddCommand(gateReviewCmd())
	cmd.AddCommand(gateAdviseCmd())
	return cmd
}

func gateOpenCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "open <entity-type> <entity-id>",
		Short: "Open the gate of the current stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gi, err := a.Engine.OpenGate(ctx, engine.OpenGateOptions{
					EntityType: args[0], EntityID: args[1], Actor: currentActor(), ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(gi)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the workflow is at this version")
	return cmd
}

func gateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-type> <entity-id>",
		Short: "Show the open gate of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gi, err := a.Engine.OpenGateFor(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(gi)
			})
		},
	}
}

func gateSelfCheckCmd() *cobra.Command {
	var done, values []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "self-check <entity-type> <entity-id>",
		Short: "Replace the requester's self-check answers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswers(done, values)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gi, err := a.Engine.SubmitSelfCheck(ctx, engine.SelfCheckOptions{
					EntityType: args[0], EntityID: args[1], Actor: currentActor(), Answers: answers, ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(gi)
			})
		},
	}
	cmd.Flags().StringSliceVar(&done, "done", nil, "ticked item ids")
	cmd.Flags().StringArrayVar(&values, "value", nil, "item answer as id=text (repeatable)")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the workflow is at this version")
	return cmd
}

func gateReviewCmd() *cobra.Command {
	var done, values []string
	var decision, comment, gateInstance string
	var expected int64
	cmd := &cobra.Command{
		Use:   "review <entity-type> <entity-id>",
		Short: "Submit the reviewer checklist and a decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswers(done, values)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.SubmitReviewerChecklist(ctx, engine.ReviewOptions{
					EntityType: args[0], EntityID: args[1], Actor: currentActor(), Answers: answers,
					Decision: domain.Decision(decision), Comment: comment, ExpectedVersion: expected,
					GateInstanceID: gateInstance,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "decision")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	cmd.Flags().StringSliceVar(&done, "done", nil, "ticked item ids")
	cmd.Flags().StringArrayVar(&values, "value", nil, "item answer as id=text (repeatable)")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the workflow is at this version")
	cmd.Flags().StringVar(&gateInstance, "gate-instance", "", "fail unless this gate instance is still the open gate")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func gateAdviseCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "advise <entity-type> <entity-id>",
		Short: "Ask the advisory service about the open gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				adv, err := a.Engine.RequestAdvisory(ctx, engine.AdvisoryOptions{
					EntityType: args[0], EntityID: args[1], Role: role, Actor: currentActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(adv)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "reviewer", "requester or reviewer")
	return cmd
}

func queueCmd() *cobra.Command {
	var f queue.Filter
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List open gates, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Queue.ListOpenGates(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity", "Gate", "Reviewer", "Due", "Level", "Overdue", "Self-check missing"})
				for _, it := range items {
					due := "-"
					if it.DueAt != nil {
						due = it.DueAt.Format("2006-01-02")
					}
					tw.AppendRow(table.Row{it.EntityType + "/" + it.EntityID, it.GateID, it.ReviewerRole, due,
						it.EscalationLevel, yesNo(it.Overdue), strings.Join(it.SelfCheckMissing, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.ReviewerRole, "reviewer-role", "", "reviewer role filter")
	cmd.Flags().BoolVar(&f.OverdueOnly, "overdue", false, "only overdue gates")
	return cmd
}

func slaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sla", Short: "SLA escalation"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Raise escalation levels of overdue gates once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evts, err := r.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Kind", "Entity", "Actor"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Kind, e.EntityType + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "event kind filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devHeaders bool
	var sweepEvery, notifyEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with the SLA sweeper and notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowDevHeaders: devHeaders, Logger: a.Logger}
				if authCfg.JWTSecret == "" && !devHeaders {
					return fmt.Errorf("GATEFLOW_JWT_SECRET is required for bearer auth (or pass --dev-headers)")
				}
				handler, err := server.New(server.Config{
					Engine:         a.Engine,
					RegistryConfig: a.Config,
					Sweeper:        a.Sweeper,
					Queue:          a.Queue,
					BasePath:       basePath,
					Auth:           authCfg,
					Logger:         a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				a.Notifier.Interval = notifyEvery

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return a.Sweeper.Run(gctx, sweepEvery) })
				g.Go(func() error { return a.Notifier.Run(gctx) })
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					a.Logger.Info("serving gateflow API", "addr", addr, "base_path", basePath, "docs", "/docs")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devHeaders, "dev-headers", false, "accept X-Actor-Id/X-Actor-Roles headers")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-interval", 15*time.Minute, "SLA sweep interval")
	cmd.Flags().DurationVar(&notifyEvery, "notify-interval", 2*time.Second, "notification poll interval")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the current actor and roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("GATEFLOW_JWT_SECRET is required")
			}
			actor := currentActor()
			tok, err := server.IssueToken(secret, actor.ID, actor.Roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(issue)
	return cmd
}

// --- helpers ---

func appOptions() app.Options {
	return app.Options{
		Workspace:    viper.GetString("workspace"),
		Driver:       viper.GetString("db-driver"),
		DSN:          viper.GetString("db-dsn"),
		RegistryFile: viper.GetString("registry-file"),
		RegistryID:   viper.GetString("registry"),
		OpenAIAPIKey: viper.GetString("openai-api-key"),
		Logger:       slog.Default(),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, dialect, err := db.Open(db.Config{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, dialect); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn, Dialect: dialect})
}

func currentActor() engine.Actor {
	return engine.Actor{ID: viper.GetString("actor-id"), Roles: viper.GetStringSlice("roles")}
}

// parseAnswers merges ticked ids and id=text values into one answer set.
func parseAnswers(done, values []string) (domain.Answers, error) {
	answers := domain.Answers{}
	for _, id := range done {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		a := answers[id]
		a.Done = true
		answers[id] = a
	}
	for _, kv := range values {
		id, text, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid --value %q, expected id=text", kv)
		}
		a := answers[id]
		a.Value = text
		answers[id] = a
	}
	return answers, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
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

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
