package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"labflow/internal/app"
	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
	"labflow/internal/seed"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}
	cmd.AddCommand(userCreateCmd(), userListCmd(), userStatsCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var in engine.CreateUserInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.CreateUser(ctx, cliActor, in)
				if err != nil {
					return err
				}
				return printTable(u, table.Row{"ID", "Name", "Email", "Role"}, []table.Row{{u.ID, u.Name, u.Email, u.Role}})
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&in.Role, "role", "customer", "administrator, supervisor, director, laboratorist or customer")
	cmd.Flags().StringVar(&in.ManagerID, "manager", "", "supervisor id for laboratorists")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.ListUsers(ctx, cliActor, repo.UserFilters{
					Role:   role,
					Active: optionalBool(cmd, "active", active),
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(users))
				for _, u := range users {
					rows = append(rows, table.Row{u.ID, u.Name, u.Email, u.Role, u.Active})
				}
				return printTable(users, table.Row{"ID", "Name", "Email", "Role", "Active"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	cmd.Flags().BoolVar(&active, "active", true, "filter by active flag")
	return cmd
}

func userStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Active accounts per role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.UserStats(ctx, cliActor)
				if err != nil {
					return err
				}
				return printCounts(stats, "Active users", stats.TotalActive, stats.ByRole, nil)
			})
		},
	}
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "site", Short: "Inspect construction sites"}
	cmd.AddCommand(siteListCmd())
	return cmd
}

func siteListCmd() *cobra.Command {
	var f repo.SiteFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sites, err := a.Engine.ListSites(ctx, cliActor, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(sites))
				for _, s := range sites {
					rows = append(rows, table.Row{s.ID, deref(s.Code), s.Name, s.Location, s.Status, s.DirectorID})
				}
				return printTable(sites, table.Row{"ID", "Code", "Name", "Location", "Status", "Director"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.DirectorID, "director", "", "filter by director id")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Inspect test requests"}
	cmd.AddCommand(requestListCmd(), requestStatsCmd(), requestOverdueCmd())
	return cmd
}

func requestRows(items []domain.TestRequest) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, t := range items {
		rows = append(rows, table.Row{t.Code, t.TestType, t.Priority, t.Status, deref(t.DueDate), t.SiteID})
	}
	return rows
}

var requestHeader = table.Row{"Code", "Type", "Priority", "Status", "Due", "Site"}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List test requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListRequests(ctx, cliActor, f)
				if err != nil {
					return err
				}
				return printTable(items, requestHeader, requestRows(items))
			})
		},
	}
	cmd.Flags().StringVar(&f.SiteID, "site", "", "filter by site id")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&f.TestType, "type", "", "filter by test type")
	cmd.Flags().StringVar(&f.From, "from", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.To, "to", "", "created on or before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func requestStatsCmd() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Test requests per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.RequestStats(ctx, cliActor, siteID)
				if err != nil {
					return err
				}
				return printCounts(stats, "Test requests", stats.Total, stats.ByStatus, stats.Percentages)
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "restrict to one site")
	return cmd
}

func requestOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "Open test requests past their due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.OverdueRequests(ctx, cliActor)
				if err != nil {
					return err
				}
				return printTable(items, requestHeader, requestRows(items))
			})
		},
	}
}

func equipmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "equipment", Short: "Inspect the equipment inventory"}
	cmd.AddCommand(equipmentListCmd(), equipmentExportCmd())
	return cmd
}

func equipmentFlags(cmd *cobra.Command, f *repo.EquipmentFilters) {
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&f.SiteID, "site", "", "filter by assigned site id")
	cmd.Flags().BoolVar(&f.Available, "available", false, "only operational equipment in the depot")
}

func equipmentListCmd() *cobra.Command {
	var f repo.EquipmentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List equipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEquipment(ctx, cliActor, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, eq := range items {
					rows = append(rows, table.Row{eq.AssetCode, eq.Name, eq.Category, eq.Status, deref(eq.SiteID), deref(eq.NextMaintenance)})
				}
				return printTable(items, table.Row{"Asset", "Name", "Category", "Status", "Site", "Next maintenance"}, rows)
			})
		},
	}
	equipmentFlags(cmd, &f)
	return cmd
}

func equipmentExportCmd() *cobra.Command {
	var f repo.EquipmentFilters
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the inventory to an XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if trimmed(out) == "" {
				return errors.New("--out required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Engine.ExportInventory(ctx, cliActor, f)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("inventory written to %s (%d bytes)\n", out, len(data))
				return nil
			})
		},
	}
	equipmentFlags(cmd, &f)
	cmd.Flags().StringVarP(&out, "out", "o", "inventory.xlsx", "output file")
	return cmd
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, sites and equipment from a YAML file",
		Long:  "Seeding is idempotent: records whose email, site code or asset code already exist are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.FromFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := f.Apply(ctx, a.Engine, cliActor)
				if err != nil {
					return err
				}
				return printTable(sum, table.Row{"Users", "Sites", "Equipment", "Skipped"},
					[]table.Row{{sum.Users, sum.Sites, sum.Equipment, sum.Skipped}})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens for local testing"}
	var email string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an account (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Production() {
					return errors.New("token issue is disabled in production")
				}
				sess, err := a.Engine.IssueSession(ctx, email)
				if err != nil {
					return err
				}
				return printTable(sess, table.Row{"Email", "Role", "Expires", "Token"},
					[]table.Row{{sess.User.Email, sess.User.Role, sess.ExpiresAt, sess.Token}})
			})
		},
	}
	issue.Flags().StringVar(&email, "email", "", "account email")
	_ = issue.MarkFlagRequired("email")
	cmd.AddCommand(issue)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEvents(ctx, cliActor, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				return printTable(items, table.Row{"ID", "TS", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "filter by event type")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "filter by entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "filter by entity id")
	cmd.AddCommand(tail)
	return cmd
}
