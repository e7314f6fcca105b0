package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/dispatch"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/migrate"
	"shiftline/internal/repo"
	"shiftline/internal/server"
	"shiftline/internal/summary"
	"shiftline/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shiftline CLI",
	Long: `Shiftline is the workflow engine behind a workplace coordination assistant.
It keeps staff profiles with a three-step role ladder, runs the report and
announcement wizards, moderates proposed tasks, appends an immutable report
ledger with a best-effort remote mirror, and sends monthly summaries.`,
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
	viper.SetEnvPrefix("SHIFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting profile id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func usersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage staff profiles"}
	users.AddCommand(usersListCmd())
	users.AddCommand(usersSetRoleCmd())
	users.AddCommand(usersAssignCmd())
	users.AddCommand(usersToggleSummaryCmd())
	users.AddCommand(usersHideCmd())
	return users
}

func usersListCmd() *cobra.Command {
	var includeHidden bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProfiles(ctx, includeHidden)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Lang", "Summary", "Hidden"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.Lang, p.SummaryEnabled, p.Hidden})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeHidden, "all", false, "include hidden profiles")
	return cmd
}

func usersSetRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-role <id> <role>",
		Short: "Assign a role (employee, technologist, manager)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetRole(ctx, viper.GetString("actor-id"), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func usersAssignCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a manager to a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AssignManager(ctx, viper.GetString("actor-id"), args[0], managerID)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager", "", "manager profile id (empty clears)")
	return cmd
}

func usersToggleSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle-summary <id>",
		Short: "Flip a profile's monthly summary opt-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				on, err := e.ToggleSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]bool{"summary_enabled": on})
			})
		},
	}
	return cmd
}

func usersHideCmd() *cobra.Command {
	var unhide bool
	cmd := &cobra.Command{
		Use:   "hide <id>",
		Short: "Hide a profile from listings and fan-outs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.HideProfile(ctx, viper.GetString("actor-id"), args[0], !unhide)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().BoolVar(&unhide, "unhide", false, "make the profile visible again")
	return cmd
}

func tasksCmd() *cobra.Command {
	tasks := &cobra.Command{Use: "tasks", Short: "Manage the task catalog"}
	tasks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog tasks in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for i, name := range items {
					fmt.Printf("%d. %s\n", i+1, name)
				}
				return nil
			})
		},
	})
	tasks.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a task to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddTask(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	})
	tasks.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a task from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveTask(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	})
	return tasks
}

func pendingCmd() *cobra.Command {
	pending := &cobra.Command{Use: "pending", Short: "Moderate proposed tasks"}
	pending.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the moderation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPending(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Submitter", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.SubmitterName, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	pending.AddCommand(&cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a proposal into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ApproveProposal(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	pending.AddCommand(&cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RejectProposal(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	return pending
}

func boardCmd() *cobra.Command {
	board := &cobra.Command{Use: "board", Short: "Announcement board"}
	board.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List announcements newest-first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				items, err := s.Engine.Repo.ListPosts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, p := range items {
					fmt.Printf("#%d %s %s\n%s\n", p.ID, p.Author, p.PublishedOn, p.Text)
					for _, emoji := range s.Config.Board.Emoji {
						if n := p.ReactionCount(emoji); n > 0 {
							fmt.Printf("%s %d  ", emoji, n)
						}
					}
					fmt.Println()
				}
				return nil
			})
		},
	})
	var text, media string
	post := &cobra.Command{
		Use:   "post",
		Short: "Publish an announcement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.PublishPost(ctx, viper.GetString("actor-id"), text, media)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	post.Flags().StringVar(&text, "text", "", "announcement text")
	post.Flags().StringVar(&media, "media", "", "media reference")
	_ = post.MarkFlagRequired("text")
	board.AddCommand(post)
	return board
}

func reportsCmd() *cobra.Command {
	reports := &cobra.Command{Use: "reports", Short: "Report ledger"}
	var month string
	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				items, err := monthOrAll(ctx, s, month)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Дата", "Имя", "Роль", "Задача", "Количество", "Технолог"})
				for _, e := range items {
					row := e.Row()
					tw.AppendRow(table.Row{row[0], row[1], row[2], row[3], row[4], row[5]})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&month, "month", "", "filter by month (YYYY-MM)")
	reports.AddCommand(list)

	var exportMonth, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export ledger entries to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				items, err := monthOrAll(ctx, s, exportMonth)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.AppendHeader(table.Row{"Дата", "Имя", "Роль", "Задача", "Количество", "Технолог"})
				for _, e := range items {
					row := e.Row()
					tw.AppendRow(table.Row{row[0], row[1], row[2], row[3], row[4], row[5]})
				}
				if err := os.WriteFile(out, []byte(tw.RenderCSV()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %d entries to %s\n", len(items), out)
				return nil
			})
		},
	}
	export.Flags().StringVar(&exportMonth, "month", "", "filter by month (YYYY-MM)")
	export.Flags().StringVar(&out, "out", "reports.csv", "output file")
	reports.AddCommand(export)
	return reports
}

func monthOrAll(ctx context.Context, s stack, month string) ([]domain.ReportEntry, error) {
	if month == "" {
		return s.Ledger.AllEntries(ctx)
	}
	first, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("month must be YYYY-MM: %w", err)
	}
	return s.Ledger.EntriesInMonth(ctx, first.Year(), first.Month(), s.Config.Location())
}

func summaryCmd() *cobra.Command {
	sum := &cobra.Command{Use: "summary", Short: "Monthly summary"}
	sum.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Aggregate the previous month and deliver summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				return s.Summary.Run(ctx)
			})
		},
	})
	return sum
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the monthly scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, s stack) error {
				if addr == "" {
					addr = s.Config.Server.Listen
				}
				if basePath == "" {
					basePath = s.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:     s.Engine,
					Dispatcher: s.Dispatcher,
					Ledger:     s.Ledger,
					Summary:    s.Summary,
					BasePath:   basePath,
					Auth:       server.AuthConfig{JWTSecret: s.Config.Server.JWTSecret},
				})
				if err != nil {
					return err
				}
				schedCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go summary.Scheduler{Job: s.Summary, Log: s.Log}.Run(schedCtx)

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancelShutdown()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Shiftline API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

// stack is the wired application used by commands that need more than the
// engine.
type stack struct {
	Config     *config.Config
	Engine     engine.Engine
	Ledger     ledger.Service
	Dispatcher *dispatch.Dispatcher
	Summary    summary.Job
	Log        *log.Logger
}

func withStack(ctx context.Context, fn func(context.Context, stack) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
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
	logger := log.New(os.Stderr, "shiftline ", log.LstdFlags)
	e := engine.New(conn, cfg)
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	var mirror ledger.Mirror = ledger.NoopMirror{}
	if cfg.Mirror.URL != "" {
		mirror = ledger.NewHTTPMirror(cfg.Mirror.URL)
	}
	led := ledger.New(conn, mirror, logger)
	out := transport.LogTransport{Log: logger}
	d := dispatch.New(e, led, out, cfg, logger)
	job := summary.Job{
		Ledger: led,
		Repo:   repo.Repo{DB: conn},
		Out:    out,
		Config: cfg,
		Log:    logger,
	}
	return fn(ctx, stack{
		Config:     cfg,
		Engine:     e,
		Ledger:     led,
		Dispatcher: d,
		Summary:    job,
		Log:        logger,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withStack(ctx, func(ctx context.Context, s stack) error {
		return fn(ctx, s.Engine)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
