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

	"skylane/internal/app"
	"skylane/internal/config"
	"skylane/internal/coordinator"
	"skylane/internal/db"
	"skylane/internal/domain"
	"skylane/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "skylane",
	Short: "Skylane USS node",
	Long: `Skylane is a UAS Service Supplier node for strategic deconfliction.
It registers operational intents and constraints with a DSS registry,
resolves airspace conflicts against other participants, notifies subscribed
peers about changes, and serves the peer wire protocol under /uss/v1.`,
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
	viper.SetEnvPrefix("SKYLANE")
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
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(flightPlanCmd())
	rootCmd.AddCommand(constraintCmd())
	rootCmd.AddCommand(subscriptionCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage node configuration"}

	var manager, domainURL string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default skylane.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(manager, domainURL)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&manager, "manager", "uss1", "manager identity")
	initCmd.Flags().StringVar(&domainURL, "domain", "http://localhost:8080", "public base URL of this node")
	cfg.AddCommand(initCmd)

	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the USS HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer node.Close()
			publicKey, err := server.LoadPublicKey(node.Config.USS.PublicKey)
			if err != nil {
				return fmt.Errorf("load public key: %w", err)
			}
			handler, err := server.New(server.Config{
				Coordinator: node.Coordinator,
				Store:       node.Store,
				Log:         node.Log,
				BasePath:    basePath,
				Auth: server.AuthConfig{
					PublicKey: publicKey,
					Audience:  node.Config.USS.Manager,
				},
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
			fmt.Printf("Serving USS %s on http://%s (peer API at /uss/v1, OpenAPI at /openapi.json)\n",
				node.Config.USS.Manager, addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "management API base path")
	return cmd
}

func flightPlanCmd() *cobra.Command {
	fp := &cobra.Command{Use: "flight-plan", Short: "Manage operational intents"}

	var area, flightType string
	var priority int
	var withConflicts bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a flight plan over an area",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoi, err := readArea(area)
			if err != nil {
				return err
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				intent, err := node.Coordinator.CreateOperationalIntent(ctx, aoi, coordinator.CreateOptions{
					TolerateConflicts: withConflicts,
					FlightType:        domain.FlightType(flightType),
					Priority:          priority,
				})
				if err != nil {
					return err
				}
				return printJSON(intent)
			})
		},
	}
	create.Flags().StringVar(&area, "area", "", "area of interest: JSON, @file, or - for stdin")
	create.Flags().StringVar(&flightType, "flight-type", "VLOS", "flight type (VLOS or BVLOS)")
	create.Flags().IntVar(&priority, "priority", 0, "priority")
	create.Flags().BoolVar(&withConflicts, "with-conflicts", false, "tolerate conflicts by submitting resolved keys")
	_ = create.MarkFlagRequired("area")
	fp.AddCommand(create)

	fp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List flight plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				items, err := node.Store.ListOperationalIntents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "State", "Version", "OVN", "Start", "End"})
				for _, it := range items {
					tw.AppendRow(table.Row{
						it.Reference.ID, it.Reference.State, it.Reference.Version,
						it.Reference.OVN, it.Reference.TimeStart.Value.Format(time.RFC3339),
						it.Reference.TimeEnd.Value.Format(time.RFC3339),
					})
				}
				tw.Render()
				return nil
			})
		},
	})

	fp.AddCommand(entityCmd("show", "Show a flight plan", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		return node.Coordinator.GetOperationalIntent(ctx, id)
	}))
	fp.AddCommand(entityCmd("activate", "Activate a flight plan", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		return node.Coordinator.ActivateOperationalIntent(ctx, id)
	}))
	fp.AddCommand(entityCmd("nonconforming", "Mark a flight plan nonconforming", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		return node.Coordinator.MarkNonconforming(ctx, id)
	}))
	fp.AddCommand(entityCmd("delete", "Delete a flight plan", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		if err := node.Coordinator.DeleteOperationalIntent(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": id.String()}, nil
	}))

	var previewArea string
	preview := &cobra.Command{
		Use:   "conflicts",
		Short: "Preview conflicting volumes over an area",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoi, err := readArea(previewArea)
			if err != nil {
				return err
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				volumes, err := node.Coordinator.ConflictPreview(ctx, aoi)
				if err != nil {
					return err
				}
				return printJSON(volumes)
			})
		},
	}
	preview.Flags().StringVar(&previewArea, "area", "", "area of interest: JSON, @file, or - for stdin")
	_ = preview.MarkFlagRequired("area")
	fp.AddCommand(preview)

	return fp
}

func constraintCmd() *cobra.Command {
	cc := &cobra.Command{Use: "constraint", Short: "Manage constraints"}

	var area string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a constraint over an area",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoi, err := readArea(area)
			if err != nil {
				return err
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				constraint, err := node.Coordinator.CreateConstraint(ctx, []domain.AreaOfInterest{aoi})
				if err != nil {
					return err
				}
				return printJSON(constraint)
			})
		},
	}
	create.Flags().StringVar(&area, "area", "", "area of interest: JSON, @file, or - for stdin")
	_ = create.MarkFlagRequired("area")
	cc.AddCommand(create)

	cc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				items, err := node.Store.ListConstraints(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Version", "OVN"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Reference.ID, c.Details.Type, c.Reference.Version, c.Reference.OVN})
				}
				tw.Render()
				return nil
			})
		},
	})

	cc.AddCommand(entityCmd("show", "Show a constraint", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		return node.Coordinator.GetConstraint(ctx, id)
	}))

	var updateArea string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a constraint's volumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			aoi, err := readArea(updateArea)
			if err != nil {
				return err
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				constraint, err := node.Coordinator.UpdateConstraint(ctx, id, []domain.AreaOfInterest{aoi})
				if err != nil {
					return err
				}
				return printJSON(constraint)
			})
		},
	}
	update.Flags().StringVar(&updateArea, "area", "", "area of interest: JSON, @file, or - for stdin")
	_ = update.MarkFlagRequired("area")
	cc.AddCommand(update)

	cc.AddCommand(entityCmd("delete", "Delete a constraint", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		if err := node.Coordinator.DeleteConstraint(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": id.String()}, nil
	}))

	return cc
}

func subscriptionCmd() *cobra.Command {
	sc := &cobra.Command{Use: "subscription", Short: "Manage area subscriptions"}

	var area string
	create := &cobra.Command{
		Use:   "create",
		Short: "Subscribe to changes over an area",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoi, err := readArea(area)
			if err != nil {
				return err
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				sub, err := node.Coordinator.CreateSubscription(ctx, aoi)
				if err != nil {
					return err
				}
				return printJSON(sub)
			})
		},
	}
	create.Flags().StringVar(&area, "area", "", "area of interest: JSON, @file, or - for stdin")
	_ = create.MarkFlagRequired("area")
	sc.AddCommand(create)

	sc.AddCommand(entityCmd("show", "Show a subscription", func(ctx context.Context, node *app.Node, id uuid.UUID) (any, error) {
		return node.Coordinator.GetSubscription(ctx, id)
	}))
	return sc
}

func availabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "availability <Normal|Down|Unknown>",
		Short:     "Declare this USS's availability to the registry",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"Normal", "Down", "Unknown"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				res, err := node.Coordinator.SetAvailability(ctx, domain.Availability(args[0]))
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	rc := &cobra.Command{Use: "report", Short: "Exchange reports"}
	var file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit an exchange report to the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			var exchange domain.Exchange
			if err := json.Unmarshal(data, &exchange); err != nil {
				return fmt.Errorf("invalid exchange json: %w", err)
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				report, err := node.Coordinator.SubmitReport(ctx, exchange)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	submit.Flags().StringVar(&file, "file", "-", "exchange JSON file, or - for stdin")
	rc.AddCommand(submit)
	return rc
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Message log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent message log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				entries, err := node.Log.Latest(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Direction", "Method", "URL", "Scope", "Status"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.Direction, e.Method, e.URL, e.Scope, e.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	lc.AddCommand(tail)
	return lc
}

// --- helpers ---

func entityCmd(use, short string, fn func(context.Context, *app.Node, uuid.UUID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withNode(cmd.Context(), func(ctx context.Context, node *app.Node) error {
				res, err := fn(ctx, node, id)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func withNode(ctx context.Context, fn func(context.Context, *app.Node) error) error {
	node, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer node.Close()
	return fn(ctx, node)
}

// readArea parses an area of interest from inline JSON, @file, or stdin.
// Missing time bounds default to a one-hour window starting now.
func readArea(value string) (domain.AreaOfInterest, error) {
	data, err := readInput(value)
	if err != nil {
		return domain.AreaOfInterest{}, err
	}
	var aoi domain.AreaOfInterest
	if err := json.Unmarshal(data, &aoi); err != nil {
		return domain.AreaOfInterest{}, fmt.Errorf("invalid area json: %w", err)
	}
	now := time.Now()
	if aoi.TimeStart.Value.IsZero() {
		aoi.TimeStart = domain.NewTimePoint(now)
	}
	if aoi.TimeEnd.Value.IsZero() {
		aoi.TimeEnd = domain.NewTimePoint(now.Add(time.Hour))
	}
	return aoi, nil
}

func readInput(value string) ([]byte, error) {
	switch {
	case value == "" || value == "-":
		return os.ReadFile("/dev/stdin")
	case strings.HasPrefix(value, "@"):
		return os.ReadFile(value[1:])
	default:
		return []byte(value), nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
