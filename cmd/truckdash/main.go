package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"truckdash/internal/app"
	"truckdash/internal/config"
	"truckdash/internal/domain"
	"truckdash/internal/log"
	"truckdash/internal/notify"
)

var logOpts = log.NewOptions()

var rootCmd = &cobra.Command{
	Use:   "truckdash",
	Short: "Truck loading dashboard client",
	Long: `truckdash is a client for the truck loading backend.
- Session: log in once per workspace; the token and role are kept in .truckdash/state.db until logout.
- Roles: viewer < user < admin. Creating and updating trucks needs user, deleting needs admin.
- Date filter: --from/--to (YYYY-MM-DD) bound both the list and the stats; live events outside the window are dropped.
- Live view: 'truckdash watch' keeps the table current from the push channel; 'truckdash serve' exposes the same state over HTTP.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	workspace, _ := rootCmd.PersistentFlags().GetString("workspace")
	if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: load .env:", err)
	}
	viper.SetEnvPrefix("TRUCKDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	fs := rootCmd.PersistentFlags()
	fs.StringP("workspace", "w", ".", "workspace directory")
	fs.Bool("json", false, "output JSON")
	fs.String("server", "", "backend base URL (overrides truckdash.yml)")
	fs.String("from", "", "date filter lower bound, YYYY-MM-DD")
	fs.String("to", "", "date filter upper bound, YYYY-MM-DD")
	fs.String("tz", "", "time zone for date filter admission (default local)")
	logOpts.AddFlags(fs)
	for _, name := range []string{"workspace", "json", "server", "from", "to", "tz"} {
		_ = viper.BindPFlag(name, fs.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(trucksCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session in this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = viper.GetString("username")
			}
			if password == "" {
				password = viper.GetString("password")
			}
			if username == "" {
				return fmt.Errorf("--username required")
			}
			if password == "" {
				var err error
				if password, err = promptLine(cmd, "Password: "); err != nil {
					return err
				}
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if !d.Session.Login(ctx, username, password) {
					d.Notify.Error("Login failed, check username and password", notify.Options{})
					printNotification(d)
					return errors.New("login failed")
				}
				u, _ := d.Session.User()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "role": d.Session.Role()})
				}
				fmt.Printf("logged in as %s (%s)\n", u.Username, d.Session.Role())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (or TRUCKDASH_USERNAME)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or TRUCKDASH_PASSWORD; prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := d.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if err := requireRole(d, domain.RoleViewer); err != nil {
					return err
				}
				if err := d.Session.FetchUser(ctx); err != nil {
					d.Notify.Error("Session expired, please log in again", notify.Options{})
					printNotification(d)
					return err
				}
				u, _ := d.Session.User()
				out := map[string]any{"id": u.ID, "username": u.Username, "role": u.Role}
				if c, ok := d.Session.Claims(); ok && !c.ExpiresAt.IsZero() {
					out["expires_at"] = c.ExpiresAt
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				h, err := d.Client.Health(ctx)
				if err != nil {
					return fmt.Errorf("backend %s: %s", d.Config.Server.URL, app.Describe(err))
				}
				return printJSONOrTable(map[string]any{"status": h.Status, "timestamp": h.Timestamp, "server": d.Config.Server.URL})
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage truckdash.yml",
		Long:  "Config is read from truckdash.yml in the workspace; TRUCKDASH_* variables (also from .env) and flags override it.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configSetServerCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default truckdash.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
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
}

func configSetServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-server URL",
		Short: "Remember the backend URL in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Server.URL = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, "TRUCKDASH_SERVER", args[0]); err != nil {
				return err
			}
			fmt.Println("saved TRUCKDASH_SERVER to", path)
			return nil
		},
	}
}

// --- helpers ---

// loadConfig reads truckdash.yml and applies env and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("server"); v != "" {
		cfg.Server.URL = v
	}
	if v := viper.GetString("from"); v != "" {
		cfg.Filter.From = v
	}
	if v := viper.GetString("to"); v != "" {
		cfg.Filter.To = v
	}
	if v := viper.GetString("tz"); v != "" {
		cfg.Filter.Timezone = v
	}
	fs := rootCmd.PersistentFlags()
	if fs.Changed("log.level") {
		cfg.Log.Level = logOpts.Level
	}
	if fs.Changed("log.format") {
		cfg.Log.Format = logOpts.Format
	}
	if fs.Changed("log.name") {
		cfg.Log.Name = logOpts.Name
	}
	if fs.Changed("log.enable-color") {
		cfg.Log.EnableColor = logOpts.EnableColor
	}
	if fs.Changed("log.disable-caller") {
		cfg.Log.DisableCaller = logOpts.DisableCaller
	}
	if fs.Changed("log.output-paths") {
		cfg.Log.OutputPaths = logOpts.OutputPaths
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withDashboard(ctx context.Context, fn func(context.Context, *app.Dashboard) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := log.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefault(logger)
	d, err := app.New(ctx, cfg, viper.GetString("workspace"), logger, app.Options{})
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

// queryFilters collects non-empty list/stats filters.
func queryFilters(pairs ...string) map[string]string {
	out := map[string]string{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			out[pairs[i]] = pairs[i+1]
		}
	}
	return out
}

func printNotification(d *app.Dashboard) {
	n := d.Notify.Current()
	if !n.Visible {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Severity, n.Message)
}

// requireRole checks the local session before calling the backend and reports
// a refusal on the notification slot.
func requireRole(d *app.Dashboard, role domain.Role) error {
	if err := d.Session.Require(role); err != nil {
		_ = d.Report(err, "")
		printNotification(d)
		return err
	}
	return nil
}

// report routes a write outcome through the notification slot to stderr.
func report(d *app.Dashboard, err error, success string) error {
	err = d.Report(err, success)
	printNotification(d)
	return err
}

func promptLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(strings.TrimSuffix(prompt, ":")), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
