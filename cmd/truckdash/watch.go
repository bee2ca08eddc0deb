package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"truckdash/internal/app"
	"truckdash/internal/datefilter"
	"truckdash/internal/domain"
	"truckdash/internal/server"
)

func watchCmd() *cobra.Command {
	var f listFlags
	var maxFPS float64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live truck board, updated from the push channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleViewer); err != nil {
					return err
				}
				if err := d.Start(ctx, f.filters()); err != nil {
					printNotification(d)
					return err
				}
				limiter := rate.NewLimiter(rate.Limit(maxFPS), 1)
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					renderBoard(d)
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-d.Trucks.Changes():
							// Bursts of events coalesce into one redraw.
							if err := limiter.Wait(ctx); err != nil {
								return nil
							}
							renderBoard(d)
						}
					}
				})
				g.Go(func() error {
					<-ctx.Done()
					d.Trucks.DisconnectWebSocket()
					return nil
				})
				return g.Wait()
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().Float64Var(&maxFPS, "max-fps", 2, "maximum redraws per second")
	return cmd
}

func renderBoard(d *app.Dashboard) {
	fmt.Fprint(os.Stdout, "\033[H\033[2J")
	from, to := d.Trucks.DateFilter()
	window := "all dates"
	if from != nil || to != nil {
		window = fmt.Sprintf("%s .. %s", dateOrDash(from), dateOrDash(to))
	}
	live := "live"
	if !d.Trucks.Connected() {
		live = "offline (restart to reconnect)"
	}
	fmt.Printf("truckdash  %s  |  %s  |  %s\n\n", time.Now().Format("15:04:05"), window, live)
	renderStats(d.Trucks.Stats())
	fmt.Println()
	if err := d.Trucks.Err(); err != nil {
		fmt.Println("failed to load trucks:", app.Describe(err))
	}
	renderTrucks(d.Trucks.Trucks())
	printNotification(d)
}

func dateOrDash(d *datefilter.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live dashboard state over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := d.Start(ctx, nil); err != nil {
					printNotification(d)
					return err
				}
				handler, err := server.New(server.Config{
					Session:       d.Session,
					Trucks:        d.Trucks,
					Notifications: d.Notify,
					Metrics:       d.Metrics,
					Logger:        d.Log,
					BasePath:      basePath,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				fmt.Printf("Serving truckdash state on http://%s%s (metrics at /metrics, OpenAPI at /openapi.json)\n", addr, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
