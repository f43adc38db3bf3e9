package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"integrity-scm/internal/app"
	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// loadConfig reads the config from the default location.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults["config_path"]
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Checkout", "Poll").
func newApp(operation string, args []string) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cfg, operation, strings.Join(args, " "), app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func parseBuild(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid build number %q", s)
	}
	return n, nil
}

// signalContext is cancelled on SIGINT/SIGTERM so a checkout stops cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "iscm",
	Short:        "Integrity SCM snapshot, diff and checkout engine for CI builds",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		cfg.Server.User, _ = cmd.Flags().GetString("user")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Server:   %s@%s:%d\n", cfg.Server.User, cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Store:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Archive:  %s\n", cfg.Archive.Type)
		fmt.Printf("Threads:  %d\n", cfg.Checkout.Threads)
		if len(cfg.Jobs) == 0 {
			fmt.Println("\nNo jobs configured.")
			return nil
		}
		fmt.Println("\nJobs:")
		for _, j := range cfg.Jobs {
			fmt.Printf("  %-20s %s -> %s\n", j.Name, j.ConfigPath, j.Workspace)
		}
		return nil
	},
}

// credentials command
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the server password",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the server password (read from the terminal or stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}

		a, err := newApp("SetPassword", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetPassword(password); err != nil {
			return fmt.Errorf("storing password: %w", err)
		}
		fmt.Println("Password stored.")
		return nil
	},
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Server password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// checkout command
var checkoutCmd = &cobra.Command{
	Use:   "checkout JOB BUILD",
	Short: "Snapshot the job's project and bring its workspace up to date",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		build, err := parseBuild(args[1])
		if err != nil {
			return err
		}

		a, err := newApp("Checkout", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		res, err := a.Checkout(ctx, args[0], build)
		if err != nil {
			return fmt.Errorf("checkout failed: %w", err)
		}

		co := res.Checkout
		fmt.Printf("Build %d of %s: %d change(s)\n", build, args[0], res.Changes)
		fmt.Printf("Checked out %d, deleted %d, skipped %d, ignored %d in %s\n",
			co.Completed, co.Deleted, co.Skipped, co.Ignored, res.Duration.Truncate(time.Millisecond))
		fmt.Printf("Change log: %s\n", res.ChangeLogPath)
		return nil
	},
}

// poll command
var pollCmd = &cobra.Command{
	Use:   "poll JOB",
	Short: "Report how many members changed since the last build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Poll", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		n, err := a.Poll(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

// changelog command
var changelogCmd = &cobra.Command{
	Use:   "changelog JOB BUILD",
	Short: "Show the change log of a build",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		build, err := parseBuild(args[1])
		if err != nil {
			return err
		}

		a, err := newApp("ChangeLog", args)
		if err != nil {
			return err
		}
		defer a.Close()

		cl, err := a.ChangeLog(args[0], build)
		if err != nil {
			return err
		}
		if len(cl.Items) == 0 {
			fmt.Println("No changes.")
			return nil
		}
		for _, item := range cl.Items {
			fmt.Printf("%-7s %-8s %-12s %s\n", item.Action, item.Revision, item.User, item.File)
			if item.Message != "" {
				fmt.Printf("        %s\n", item.Message)
			}
		}
		return nil
	},
}

// checkin command
var checkinCmd = &cobra.Command{
	Use:   "checkin JOB DIR",
	Short: "Check build artifacts into the job's project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts integrity.CheckinOptions
		opts.ItemID, _ = cmd.Flags().GetString("item")
		opts.ConfigPath, _ = cmd.Flags().GetString("project")
		opts.Description, _ = cmd.Flags().GetString("description")

		a, err := newApp("Checkin", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		res, err := a.Checkin(ctx, args[0], args[1], opts)
		if err != nil {
			return fmt.Errorf("check-in failed: %w", err)
		}
		fmt.Printf("Change package %s: %d checked in, %d added\n", res.ChangePackageID, res.CheckedIn, res.Added)
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage recorded snapshots",
}

var cacheListCmd = &cobra.Command{
	Use:   "list [JOB]",
	Short: "List recorded snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListSnapshots", args)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs := args
		if len(jobs) == 0 {
			if jobs, err = a.ListJobs(); err != nil {
				return err
			}
		}
		if len(jobs) == 0 {
			fmt.Println("No snapshots recorded.")
			return nil
		}
		sort.Strings(jobs)
		for _, job := range jobs {
			entries, err := a.ListSnapshots(job)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-20s #%-6d %-10s %s  %s\n",
					e.JobName, e.BuildNumber, e.ConfigurationName,
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.TableName)
			}
		}
		return nil
	},
}

var cacheDeleteJobCmd = &cobra.Command{
	Use:   "delete-job JOB",
	Short: "Drop every snapshot and change log of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeleteJob", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteJob(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted job %s\n", args[0])
		return nil
	},
}

var cacheDeleteBuildCmd = &cobra.Command{
	Use:   "delete-build JOB BUILD",
	Short: "Drop the snapshot of one build",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		build, err := parseBuild(args[1])
		if err != nil {
			return err
		}

		a, err := newApp("DeleteBuild", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteBuild(args[0], build); err != nil {
			return err
		}
		fmt.Printf("Deleted build %d of %s\n", build, args[0])
		return nil
	},
}

var cacheMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Drop snapshots of removed jobs and enforce retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Maintain", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Maintain()
		if err != nil {
			return err
		}
		fmt.Printf("Jobs deleted: %d, snapshots pruned: %d, failures: %d\n",
			res.JobsDeleted, res.SnapshotsPruned, res.Failures)
		return nil
	},
}

var cacheDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run maintenance on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MaintenanceDaemon", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		// Re-read the config on every pass so removed jobs are noticed.
		reload := func() ([]string, error) {
			cfg, _, err := loadConfig()
			if err != nil {
				return nil, err
			}
			return cfg.JobNames(), nil
		}
		s, err := a.NewScheduler(reload)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		s.Start()
		<-ctx.Done()
		<-s.Stop().Done()
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credentials, schema and snapshot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Printf("Server:      %s\n", st.Server)
		fmt.Printf("Credentials: %v\n", st.CredentialsConfigured)
		if st.Schema != nil {
			state := "current"
			switch {
			case st.Schema.Dirty:
				state = "dirty"
			case !st.Schema.Current():
				state = "out of date"
			}
			fmt.Printf("Schema:      version %d of %d (%s)\n", st.Schema.Version, st.Schema.Latest, state)
		}

		if len(st.Jobs) == 0 {
			fmt.Println("No snapshots recorded.")
			return nil
		}
		jobs := make([]string, 0, len(st.Jobs))
		for j := range st.Jobs {
			jobs = append(jobs, j)
		}
		sort.Strings(jobs)
		for _, j := range jobs {
			fmt.Printf("  %-20s %d snapshot(s)\n", j, st.Jobs[j])
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("host", "", "Integrity server host")
	configInitCmd.Flags().Int("port", 7001, "Integrity server port")
	configInitCmd.Flags().String("user", "", "Integrity server user")

	credentialsCmd.AddCommand(credentialsSetCmd)

	// cache subcommands
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheDeleteJobCmd)
	cacheCmd.AddCommand(cacheDeleteBuildCmd)
	cacheCmd.AddCommand(cacheMaintainCmd)
	cacheCmd.AddCommand(cacheDaemonCmd)

	checkinCmd.Flags().String("item", "", "Work item the change package is created against (required)")
	checkinCmd.Flags().String("project", "", "Configuration path receiving the artifacts (default: the job's)")
	checkinCmd.Flags().String("description", "", "Change package description")
	checkinCmd.MarkFlagRequired("item")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(changelogCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statusCmd)
}
