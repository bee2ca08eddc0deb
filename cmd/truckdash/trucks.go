package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"truckdash/internal/app"
	"truckdash/internal/domain"
	truckdashsdk "truckdash/sdk/go"
)

type listFlags struct {
	terminal          string
	statusPreparation string
	statusLoading     string
	skip              int
	limit             int
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.terminal, "terminal", "", "terminal filter")
	cmd.Flags().StringVar(&f.statusPreparation, "status-preparation", "", "preparation status filter")
	cmd.Flags().StringVar(&f.statusLoading, "status-loading", "", "loading status filter")
	cmd.Flags().IntVar(&f.skip, "skip", 0, "records to skip")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum records (0 = backend default)")
}

func (f *listFlags) filters() map[string]string {
	out := queryFilters(
		"terminal", f.terminal,
		"status_preparation", f.statusPreparation,
		"status_loading", f.statusLoading,
	)
	if f.skip > 0 {
		out["skip"] = strconv.Itoa(f.skip)
	}
	if f.limit > 0 {
		out["limit"] = strconv.Itoa(f.limit)
	}
	return out
}

func trucksCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "trucks", Short: "List and change trucks"}
	cmd.AddCommand(trucksListCmd())
	cmd.AddCommand(trucksGetCmd())
	cmd.AddCommand(trucksCreateCmd())
	cmd.AddCommand(trucksUpdateCmd())
	cmd.AddCommand(trucksDeleteCmd())
	cmd.AddCommand(trucksStatusCmd())
	return cmd
}

func trucksListCmd() *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trucks within the date filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleViewer); err != nil {
					return err
				}
				d.Trucks.FetchTrucks(ctx, f.filters())
				if err := d.Trucks.Err(); err != nil {
					fmt.Fprintln(os.Stderr, "warning: failed to load trucks:", app.Describe(err))
				}
				items := d.Trucks.Trucks()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderTrucks(items)
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func trucksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one truck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleViewer); err != nil {
					return err
				}
				t, err := d.Client.GetTruck(ctx, args[0])
				if err != nil {
					return report(d, err, "")
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func trucksCreateCmd() *cobra.Command {
	var in truckdashsdk.TruckInput
	var prepStart, prepEnd, loadStart, loadEnd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a truck (role user)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Terminal == "" || in.TruckNo == "" || in.DockCode == "" || in.TruckRoute == "" {
				return fmt.Errorf("--terminal, --truck-no, --dock-code and --route are required")
			}
			if err := checkStatus(in.StatusPreparation, in.StatusLoading); err != nil {
				return err
			}
			in.PreparationStart = optionalString(prepStart)
			in.PreparationEnd = optionalString(prepEnd)
			in.LoadingStart = optionalString(loadStart)
			in.LoadingEnd = optionalString(loadEnd)
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleUser); err != nil {
					return err
				}
				t, err := d.Trucks.CreateTruck(ctx, in)
				if err := report(d, err, "Truck created"); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Terminal, "terminal", "", "terminal")
	cmd.Flags().StringVar(&in.TruckNo, "truck-no", "", "plate number")
	cmd.Flags().StringVar(&in.DockCode, "dock-code", "", "dock code")
	cmd.Flags().StringVar(&in.TruckRoute, "route", "", "route")
	cmd.Flags().StringVar(&prepStart, "preparation-start", "", "preparation start, HH:MM")
	cmd.Flags().StringVar(&prepEnd, "preparation-end", "", "preparation end, HH:MM")
	cmd.Flags().StringVar(&loadStart, "loading-start", "", "loading start, HH:MM")
	cmd.Flags().StringVar(&loadEnd, "loading-end", "", "loading end, HH:MM")
	cmd.Flags().StringVar(&in.StatusPreparation, "status-preparation", domain.StatusOnProcess, "preparation status")
	cmd.Flags().StringVar(&in.StatusLoading, "status-loading", domain.StatusOnProcess, "loading status")
	return cmd
}

func trucksUpdateCmd() *cobra.Command {
	values := map[string]*string{}
	fields := []struct{ flag, usage string }{
		{"terminal", "terminal"},
		{"truck-no", "plate number"},
		{"dock-code", "dock code"},
		{"route", "route"},
		{"preparation-start", "preparation start, HH:MM"},
		{"preparation-end", "preparation end, HH:MM"},
		{"loading-start", "loading start, HH:MM"},
		{"loading-end", "loading end, HH:MM"},
		{"status-preparation", "preparation status"},
		{"status-loading", "loading status"},
	}
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change truck fields (role user)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := func(name string) *string {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				v := *values[name]
				return &v
			}
			upd := truckdashsdk.TruckUpdate{
				Terminal:          changed("terminal"),
				TruckNo:           changed("truck-no"),
				DockCode:          changed("dock-code"),
				TruckRoute:        changed("route"),
				PreparationStart:  changed("preparation-start"),
				PreparationEnd:    changed("preparation-end"),
				LoadingStart:      changed("loading-start"),
				LoadingEnd:        changed("loading-end"),
				StatusPreparation: changed("status-preparation"),
				StatusLoading:     changed("status-loading"),
			}
			if err := checkStatus(deref(upd.StatusPreparation), deref(upd.StatusLoading)); err != nil {
				return err
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleUser); err != nil {
					return err
				}
				t, err := d.Trucks.UpdateTruck(ctx, args[0], upd)
				if err := report(d, err, "Truck updated"); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	for _, f := range fields {
		values[f.flag] = cmd.Flags().String(f.flag, "", f.usage)
	}
	return cmd
}

func trucksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a truck (role admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleAdmin); err != nil {
					return err
				}
				return report(d, d.Trucks.DeleteTruck(ctx, args[0]), "Truck deleted")
			})
		},
	}
}

func trucksStatusCmd() *cobra.Command {
	var statusType, status string
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Set the preparation or loading status (role user)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.StatusType(statusType).Valid() {
				return fmt.Errorf("--type must be %s or %s", domain.StatusPreparation, domain.StatusLoading)
			}
			if !domain.ValidStatus(status) {
				return fmt.Errorf("--status must be one of %v", domain.Statuses)
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleUser); err != nil {
					return err
				}
				t, err := d.Trucks.UpdateStatus(ctx, args[0], statusType, status)
				if err := report(d, err, fmt.Sprintf("%s status set to %s", statusType, status)); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&statusType, "type", string(domain.StatusLoading), "status dimension: preparation or loading")
	cmd.Flags().StringVar(&status, "status", "", "On Process, Delay or Finished")
	return cmd
}

func statsCmd() *cobra.Command {
	var terminal string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the stats snapshot for the date filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleViewer); err != nil {
					return err
				}
				st := d.Trucks.FetchStats(ctx, queryFilters("terminal", terminal))
				if viper.GetBool("json") {
					return printJSON(st)
				}
				renderStats(st)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&terminal, "terminal", "", "terminal filter")
	return cmd
}

func checkStatus(values ...string) error {
	for _, v := range values {
		if v != "" && !domain.ValidStatus(v) {
			return fmt.Errorf("invalid status %q, want one of %v", v, domain.Statuses)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderTrucks(items []truckdashsdk.Truck) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Truck No", "Terminal", "Dock", "Route", "Preparation", "Loading", "Created"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.TruckNo, t.Terminal, t.DockCode, t.TruckRoute, t.StatusPreparation, t.StatusLoading, t.CreatedAt})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(items)})
	tw.Render()
}

func renderStats(st truckdashsdk.Stats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Stage", "On Process", "Delay", "Finished"})
	tw.AppendRow(table.Row{"Preparation", st.PreparationStats[domain.StatusOnProcess], st.PreparationStats[domain.StatusDelay], st.PreparationStats[domain.StatusFinished]})
	tw.AppendRow(table.Row{"Loading", st.LoadingStats[domain.StatusOnProcess], st.LoadingStats[domain.StatusDelay], st.LoadingStats[domain.StatusFinished]})
	tw.AppendFooter(table.Row{"Total trucks", st.TotalTrucks, "", ""})
	tw.Render()

	if len(st.TerminalStats) == 0 {
		return
	}
	terminals := make([]string, 0, len(st.TerminalStats))
	for k := range st.TerminalStats {
		terminals = append(terminals, k)
	}
	sort.Strings(terminals)
	tt := table.NewWriter()
	tt.SetOutputMirror(os.Stdout)
	tt.AppendHeader(table.Row{"Terminal", "Trucks"})
	for _, k := range terminals {
		tt.AppendRow(table.Row{k, st.TerminalStats[k]})
	}
	tt.Render()
}
