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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meritline/internal/app"
	"meritline/internal/config"
	"meritline/internal/db"
	"meritline/internal/domain"
	"meritline/internal/engine"
	"meritline/internal/lifecycle"
	"meritline/internal/migrate"
	"meritline/internal/repo"
	"meritline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Meritline CLI",
	Long: `Meritline governs work items through a two-track approval lifecycle.
- Workspace: your .meritline directory holding the database; org config lives in the DB and is imported explicitly.
- Work items: reports and tasks submitted by workers, reviewed first-line by team leads, decided finally by domain admins.
- Overrides: a first-line rejection with a pending final status is the conflict state; only override authority resolves it, and the supreme tier must always give a reason.
- Contributions: shared items carry collaborator weights; payouts are settled in whole cents when the item is finalized.
- Audit trail: every decision is an append-only event, view with 'ml timeline' or 'ml log tail'.`,
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
	viper.SetEnvPrefix("MERITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(finalizeCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(reviseCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(contribCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgShowCmd())
	org.AddCommand(orgGrantCmd())
	org.AddCommand(orgAssignmentsCmd())
	org.AddCommand(orgConfigCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			o, err := e.InitOrg(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "org id")
	cmd.Flags().StringVar(&name, "name", "", "org name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrg(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orgGrantCmd() *cobra.Command {
	var actorID, role string
	var domains []string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Grant(ctx, e.Config.Org.ID, actorID, role, domains); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s\n", role, actorID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor to grant")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "managed domain (domain-admin only, repeatable)")
	_ = cmd.MarkFlagRequired("actor-id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func orgAssignmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "List role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssignments(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role", "Domains"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActorID, a.Role, strings.Join(a.Domains, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orgConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage org config"}
	cfg.AddCommand(orgConfigShowCmd())
	cfg.AddCommand(orgConfigValidateCmd())
	cfg.AddCommand(orgConfigImportCmd())
	cfg.AddCommand(orgConfigInitCmd())
	return cfg
}

func orgConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show active org config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.Repo.GetOrgConfig(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	return cmd
}

func orgConfigValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func orgConfigImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config into the active org",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertOrgConfig(ctx, e.Config.Org.ID, cfg); err != nil {
					return err
				}
				fmt.Println("config imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func orgConfigInitCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print a default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				orgID = "default-org"
			}
			fmt.Print(config.GenerateDefault(orgID))
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "id", "", "org id")
	return cmd
}

func submitCmd() *cobra.Command {
	var kind, title, desc, domainName string
	var rateCents int64
	var collaborators []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Submit(ctx, engine.SubmitOptions{
					OrgID:         e.Config.Org.ID,
					Kind:          kind,
					ActorID:       viper.GetString("actor-id"),
					Domain:        domainName,
					Title:         title,
					Description:   desc,
					RateCents:     rateCents,
					Collaborators: collaborators,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "report", "item kind (report, task)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&domainName, "domain", "", "domain")
	cmd.Flags().Int64Var(&rateCents, "rate-cents", 0, "payable rate in cents")
	cmd.Flags().StringSliceVar(&collaborators, "collaborator", nil, "collaborator actor id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Inspect work items"}
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	return item
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OrgID == "" {
					f.OrgID = e.Config.Org.ID
				}
				items, err := e.Repo.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "First-line", "Final", "Rev", "Rate"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Kind, w.Title, w.FirstLine, w.Final, w.Revision, formatCents(w.RateCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner-id", "", "owner filter")
	cmd.Flags().StringVar(&f.Domain, "domain", "", "domain filter")
	cmd.Flags().StringVar(&f.FirstLine, "first-line", "", "first-line status filter")
	cmd.Flags().StringVar(&f.Final, "final", "", "final status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func itemGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func reviewCmd() *cobra.Command {
	var decision, justification, note string
	cmd := &cobra.Command{
		Use:   "review <item-id>",
		Short: "Record a first-line decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Apply(ctx, engine.TransitionRequest{
					WorkItemID:    args[0],
					Track:         lifecycle.TrackFirstLine,
					Target:        lifecycle.Status(decision),
					ActorID:       viper.GetString("actor-id"),
					Justification: justification,
					Note:          note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	cmd.Flags().StringVar(&note, "note", "", "reviewer note")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func decideCmd() *cobra.Command {
	var decision, justification, note string
	cmd := &cobra.Command{
		Use:   "decide <item-id>",
		Short: "Record a final decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Apply(ctx, engine.TransitionRequest{
					WorkItemID:    args[0],
					Track:         lifecycle.TrackFinal,
					Target:        lifecycle.Status(decision),
					ActorID:       viper.GetString("actor-id"),
					Justification: justification,
					Note:          note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	cmd.Flags().StringVar(&note, "note", "", "note")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func finalizeCmd() *cobra.Command {
	var justification string
	cmd := &cobra.Command{
		Use:   "finalize <item-id>",
		Short: "Finalize an approved item and settle payouts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Apply(ctx, engine.TransitionRequest{
					WorkItemID:    args[0],
					Track:         lifecycle.TrackFinal,
					Target:        lifecycle.FinalFinalized,
					ActorID:       viper.GetString("actor-id"),
					Justification: justification,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	return cmd
}

func overrideCmd() *cobra.Command {
	var resolution, justification string
	cmd := &cobra.Command{
		Use:   "override <item-id>",
		Short: "Resolve a first-line rejection by override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Override(ctx, engine.OverrideRequest{
					WorkItemID:    args[0],
					ActorID:       viper.GetString("actor-id"),
					Resolution:    lifecycle.Status(resolution),
					Justification: justification,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "approved or rejected")
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}

func reviseCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "revise <item-id>",
		Short: "Request a revision of a rejected item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.RequestRevision(ctx, args[0], viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "revision note (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func rateCmd() *cobra.Command {
	var rateCents int64
	var justification string
	cmd := &cobra.Command{
		Use:   "rate <item-id>",
		Short: "Change the payable rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.SetRate(ctx, args[0], viper.GetString("actor-id"), rateCents, justification)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().Int64Var(&rateCents, "rate-cents", 0, "new rate in cents")
	cmd.Flags().StringVar(&justification, "justification", "", "justification text")
	_ = cmd.MarkFlagRequired("rate-cents")
	return cmd
}

func contribCmd() *cobra.Command {
	contrib := &cobra.Command{Use: "contrib", Short: "Manage contributions"}
	contrib.AddCommand(contribAssignCmd())
	contrib.AddCommand(contribListCmd())
	contrib.AddCommand(contribVerifyCmd())
	return contrib
}

func contribAssignCmd() *cobra.Command {
	var weights []string
	cmd := &cobra.Command{
		Use:   "assign <item-id>",
		Short: "Assign collaborator weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseWeights(weights)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contribs, err := e.AssignContributions(ctx, args[0], viper.GetString("actor-id"), parsed)
				if err != nil {
					return err
				}
				return printContributions(contribs)
			})
		},
	}
	cmd.Flags().StringSliceVar(&weights, "weight", nil, "collaborator=weight (repeatable)")
	_ = cmd.MarkFlagRequired("weight")
	return cmd
}

func contribListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <item-id>",
		Short: "List contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contribs, err := e.Repo.ListContributions(ctx, args[0])
				if err != nil {
					return err
				}
				return printContributions(contribs)
			})
		},
	}
	return cmd
}

func contribVerifyCmd() *cobra.Command {
	var collaboratorID string
	cmd := &cobra.Command{
		Use:   "verify <item-id>",
		Short: "Verify a contribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.VerifyContribution(ctx, args[0], collaboratorID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("verified %s on %s\n", collaboratorID, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collaboratorID, "collaborator-id", "", "collaborator to verify")
	_ = cmd.MarkFlagRequired("collaborator-id")
	return cmd
}

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <item-id>",
		Short: "Show the audit timeline of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Action", "Actor", "Prev", "New", "Justification"})
				for _, evt := range events {
					just := ""
					if evt.Justification != nil {
						just = *evt.Justification
					}
					tw.AppendRow(table.Row{evt.TS, evt.Action, evt.ActorID, evt.PrevValue, evt.NewValue, just})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var action string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListAuditEvents(ctx, e.Config.Org.ID, action, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if actorID == "" {
					actorID = viper.GetString("actor-id")
				}
				if err := r.EnsureActor(ctx, actorID); err != nil {
					return err
				}
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// the secret is shown once and never stored
				fmt.Printf("api key created for %s\nX-Api-Key: %s\n", actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for-actor", "", "actor the key authenticates")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for-actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			_, cfg, err := app.ResolveOrgAndConfig(cmd.Context(), workspace, viper.GetString("org"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("MERITLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MERITLINE_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Meritline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func parseWeights(specs []string) ([]engine.ContributionWeight, error) {
	var out []engine.ContributionWeight
	for _, s := range specs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("weight %q must be collaborator=weight", s)
		}
		var weight float64
		if _, err := fmt.Sscanf(parts[1], "%g", &weight); err != nil {
			return nil, fmt.Errorf("weight %q: %w", s, err)
		}
		out = append(out, engine.ContributionWeight{CollaboratorID: parts[0], Weight: weight})
	}
	return out, nil
}

func printContributions(contribs []domain.Contribution) error {
	if viper.GetBool("json") {
		return printJSON(contribs)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Collaborator", "Weight", "Amount", "Verified", "Note"})
	for _, c := range contribs {
		weight := ""
		if c.Weight != nil {
			weight = fmt.Sprintf("%g", *c.Weight)
		}
		amount := ""
		if c.AmountCents != nil {
			amount = formatCents(*c.AmountCents)
		}
		tw.AppendRow(table.Row{c.CollaboratorID, weight, amount, c.Verified, c.Note})
	}
	tw.Render()
	return nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
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
