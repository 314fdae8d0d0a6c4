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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/engine"
	"deskline/internal/i18n"
	"deskline/internal/migrate"
	"deskline/internal/notify"
	"deskline/internal/repo"
	"deskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Deskline CLI",
	Long: `Deskline routes free-text support requests through review to a fulfiller pool.
Concepts:
- Workspace: the .deskline directory holding the SQLite database; deskline.yml configures the desk.
- Request: one piece of work; statuses flow pending -> approved -> assigned -> answered -> closed, with declined as the reviewer's terminal exit.
- Actors: everyone starts as a requester; the first successful take promotes to fulfiller; reviewers are assigned with 'dl actor set-role'.
- Channels: reviewers and fulfillers each have a shared broadcast channel; requesters get private replies. Configure webhook endpoints in deskline.yml.
- Sessions: the conversational steps (pick category, type text, confirm) live in memory only; every durable fact is in the database.
- Event log: every transition is recorded, view with 'dl log tail'.`,
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
	viper.SetEnvPrefix("DESKLINE")
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
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var deskID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default deskline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(deskID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&deskID, "desk-id", "support", "desk identifier")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect desk config",
	}
	var stored bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if stored {
					snapshot, err := e.Repo.GetDeskConfig(ctx, e.Config.Desk.ID)
					if err != nil {
						return err
					}
					return printJSONOrIndent(snapshot)
				}
				return printJSONOrIndent(e.Config)
			})
		},
	}
	showCmd.Flags().BoolVar(&stored, "stored", false, "show the snapshot recorded by the last serve")
	cfg.AddCommand(showCmd)
	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfgFile *config.Config
			var err error
			if file != "" {
				cfgFile, err = config.FromFile(file)
			} else {
				cfgFile, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": true, "desk_id": cfgFile.Desk.ID})
			}
			fmt.Println("config OK")
			return nil
		},
	}
	validateCmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	cfg.AddCommand(validateCmd)
	return cfg
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show desk status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts, err := e.StatusSummary(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(e.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"desk_id":        e.Config.Desk.ID,
						"schema_version": schema,
						"request_counts": counts,
					})
				}
				fmt.Printf("Desk: %s (%s)\n", e.Config.Desk.ID, e.Config.Desk.Name)
				fmt.Printf("Schema version: %d\n", schema)
				fmt.Println("Requests:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
}

func messageCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Submit free text as the acting actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out, err := e.SubmitText(ctx, viper.GetString("actor-id"), text)
				if err != nil {
					return err
				}
				return printOutcome(out)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func actionCmd() *cobra.Command {
	var requestID, categoryID, comment string
	cmd := &cobra.Command{
		Use:   "action <name>",
		Short: "Submit an action as the acting actor",
		Long:  "Action names: new, category, back, confirm, edit, take, reject, approve, decline, approve_answer, decline_answer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out, err := e.HandleAction(ctx, engine.ActionInput{
					ActorID:    viper.GetString("actor-id"),
					Name:       args[0],
					RequestID:  requestID,
					CategoryID: categoryID,
					Comment:    comment,
				})
				if err != nil {
					return err
				}
				return printOutcome(out)
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "request id")
	cmd.Flags().StringVar(&categoryID, "category", "", "category id")
	cmd.Flags().StringVar(&comment, "comment", "", "reviewer comment")
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Inspect requests"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestPoolCmd())
	return req
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Category", "Requester", "Fulfiller", "Updated"})
				for _, r := range items {
					fulfiller := ""
					if r.FulfillerID != nil {
						fulfiller = *r.FulfillerID
					}
					tw.AppendRow(table.Row{r.ID, r.Status, r.CategoryID, r.RequesterID, fulfiller, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.RequesterID, "requester", "", "requester filter")
	cmd.Flags().StringVar(&f.FulfillerID, "fulfiller", "", "fulfiller filter")
	cmd.Flags().StringVar(&f.CategoryID, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				r, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(r)
			})
		},
	}
}

func requestPoolCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "List the open pool of approved requests, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.OpenPool(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (0 = all)")
	return cmd
}

func categoryCmd() *cobra.Command {
	cat := &cobra.Command{Use: "category", Short: "Manage categories"}
	cat.AddCommand(categoryListCmd())
	cat.AddCommand(categoryAddCmd())
	cat.AddCommand(categoryRenameCmd())
	cat.AddCommand(categoryRemoveCmd())
	return cat
}

func categoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Tag"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Tag})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func categoryAddCmd() *cobra.Command {
	var name, tag string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cat, err := e.CreateCategory(ctx, viper.GetString("actor-id"), name, tag)
				if err != nil {
					return err
				}
				return printJSONOrIndent(cat)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&tag, "tag", "", "stable tag")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func categoryRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <id>",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cat, err := e.RenameCategory(ctx, viper.GetString("actor-id"), args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrIndent(cat)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func categoryRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a category (refused while requests reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteCategory(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Manage actors"}
	act.AddCommand(actorListCmd())
	act.AddCommand(actorBanCmd())
	act.AddCommand(actorUnbanCmd())
	act.AddCommand(actorSetRoleCmd())
	return act
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListActors(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Banned", "Assignment"})
				for _, a := range items {
					assignment := ""
					if a.CurrentAssignmentID != nil {
						assignment = *a.CurrentAssignmentID
					}
					tw.AppendRow(table.Row{a.ID, a.Role, a.Banned, assignment})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func actorBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <id>",
		Short: "Ban an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.BanActor(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func actorUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <id>",
		Short: "Unban an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.UnbanActor(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func actorSetRoleCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <id>",
		Short: "Assign an actor's role (reviewer bootstrap)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.SetActorRole(ctx, viper.GetString("actor-id"), args[0], role)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "requester, fulfiller, or reviewer")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				plaintext, key, err := e.CreateAPIKey(ctx, actorID, name)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadOrDefaultConfig(workspace)
			if err != nil {
				return err
			}
			tr, err := i18n.New(cfg.Locale.Default)
			if err != nil {
				return err
			}
			notifier := notify.NewWebhook(map[notify.Channel]string{
				notify.ChannelReviewers:  cfg.Channels.Reviewers,
				notify.ChannelFulfillers: cfg.Channels.Fulfillers,
				notify.ChannelRequester:  cfg.Channels.Requesters,
			}, nil)
			e := engine.New(conn, cfg, tr, notifier)
			if err := e.SeedCategories(cmd.Context()); err != nil {
				return err
			}
			// Snapshot the active config so operators can recover what a
			// desk was last served with.
			if err := e.Repo.UpsertDeskConfig(cmd.Context(), cfg.Desk.ID, cfg); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("DESKLINE_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("jwt secret is required: set auth.jwt_secret or DESKLINE_JWT_SECRET, or pass --allow-legacy-actor-header")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Deskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id")
	return cmd
}

// --- helpers ---

func loadOrDefaultConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("support")
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadOrDefaultConfig(workspace)
	if err != nil {
		return err
	}
	tr, err := i18n.New(cfg.Locale.Default)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, tr, notify.NewMemory())
	if err := e.SeedCategories(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func printOutcome(out engine.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"result":   out.Result,
			"reason":   out.Reason,
			"messages": out.Messages,
		})
	}
	fmt.Printf("result: %s", out.Result)
	if out.Reason != "" {
		fmt.Printf(" (%s)", out.Reason)
	}
	fmt.Println()
	for _, m := range out.Messages {
		target := string(m.Channel)
		if m.ActorID != "" {
			target += ":" + m.ActorID
		}
		fmt.Printf("-> [%s] %s\n", target, m.Text)
		for _, a := range m.Actions {
			fmt.Printf("   [%s] action=%s request=%s category=%s\n", a.Label, a.Name, a.RequestID, a.CategoryID)
		}
	}
	return nil
}

func printJSONOrIndent(v any) error {
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
