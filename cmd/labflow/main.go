package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"labflow/internal/app"
	"labflow/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "labflow",
	Short: "Labflow laboratory management",
	Long: `Labflow runs the testing laboratory behind construction sites.
- Sites: construction sites owned by a director; planned -> in_progress -> paused/finished/cancelled.
- Test requests: soil, concrete or asphalt tests asked for a site; pending -> accepted -> in_progress -> finished.
- Results: measurements recorded by a laboratorist, finished with a verdict, exported as XLSX reports.
- Equipment: inventory with an append-only history of assignments, returns and maintenance.
Configuration comes from --config (yaml) and LABFLOW_* environment variables.`,
	SilenceUsage: true,
}

// cliActor is the identity used for commands run by the operator on the host.
var cliActor = auth.Identity{ID: "system", Name: "labflow cli", Role: auth.Administrator}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (yaml)")
	pf.String("env", "", "environment: development, production or test")
	pf.String("db-driver", "", "database driver: sqlite or postgres")
	pf.StringP("workspace", "w", "", "workspace directory holding the sqlite database")
	pf.Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", pf.Lookup("config"))
	_ = viper.BindPFlag("env", pf.Lookup("env"))
	_ = viper.BindPFlag("db.driver", pf.Lookup("db-driver"))
	_ = viper.BindPFlag("db.workspace", pf.Lookup("workspace"))
	_ = viper.BindPFlag("json", pf.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(equipmentCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

// withApp loads configuration, opens storage and hands a ready app to fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := app.LoadConfig(viper.GetViper(), viper.GetString("config"))
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}

func printCounts(v any, title string, total int, counts map[string]int, pct map[string]float64) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf("%s: %d\n", title, total)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{"Key", "Count"}
	if pct != nil {
		header = append(header, "%")
	}
	tw.AppendHeader(header)
	for k, c := range counts {
		row := table.Row{k, c}
		if pct != nil {
			row = append(row, fmt.Sprintf("%.2f", pct[k]))
		}
		tw.AppendRow(row)
	}
	tw.SortBy([]table.SortBy{{Name: "Key", Mode: table.Asc}})
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalBool(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func trimmed(s string) string { return strings.TrimSpace(s) }
