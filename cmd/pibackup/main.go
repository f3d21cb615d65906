package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pibackup/internal/app"
	"pibackup/internal/backup"
	"pibackup/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const pollInterval = 500 * time.Millisecond

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "backup", "serve").
func newApp(command string) (*app.App, error) {
	paths, err := app.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "pibackup",
	Short:        "Snapshot backups between removable volumes",
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
		paths, err := app.ResolvePaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, paths.BaseDir)
		cfg.Mounts.BaseDir = paths.MountBase

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Host ID:    %s\n", hostID)
		fmt.Printf("Base Dir:   %s\n", paths.BaseDir)
		fmt.Printf("Mount Base: %s\n", cfg.Mounts.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.ResolvePaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Host ID:         %s\n", cfg.HostID)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Mount Base:      %s\n", cfg.Mounts.BaseDir)
		fmt.Printf("Markers:         source=%s destination=%s identity=%s\n",
			cfg.Mounts.SourceMarker, cfg.Mounts.DestinationMarker, cfg.Mounts.IdentityMarker)
		fmt.Printf("Snapshot Prefix: %s\n", cfg.Backup.SnapshotPrefix)
		fmt.Printf("Hash Algorithm:  %s\n", cfg.Backup.HashAlgorithm)
		fmt.Printf("Listen:          %s\n", cfg.Server.Listen)
		return nil
	},
}

// volumes command
var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Manage mounted volumes",
}

var volumesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mounted volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("volumes list")
		if err != nil {
			return err
		}
		defer a.Close()

		volumes, err := a.Service().ListVolumes()
		if err != nil {
			return err
		}

		if len(volumes) == 0 {
			fmt.Println("No volumes mounted.")
			return nil
		}

		for _, v := range volumes {
			role := "-"
			switch {
			case v.IsSource && v.IsDestination:
				role = "source+destination"
			case v.IsSource:
				role = "source"
			case v.IsDestination:
				role = "destination"
			}
			fmt.Printf("%-16s  %-12s  %-8s  %10s free of %-10s  %s\n",
				v.Name,
				role,
				v.FSType,
				formatBytes(v.Capacity.Free),
				formatBytes(v.Capacity.Total),
				v.ID,
			)
			if !v.Healthy() {
				fmt.Printf("    error: %s\n", v.Error)
			}
		}
		return nil
	},
}

var volumesRolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Assign source and destination roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, _ := cmd.Flags().GetStringSlice("source")
		destinations, _ := cmd.Flags().GetStringSlice("dest")
		clears, _ := cmd.Flags().GetStringSlice("clear")

		if len(sources)+len(destinations)+len(clears) == 0 {
			return errors.New("nothing to do: pass --source, --dest or --clear")
		}

		a, err := newApp("volumes roles")
		if err != nil {
			return err
		}
		defer a.Close()

		roots, err := a.Service().SetRoles(backup.RoleAssignment{
			Sources:      sources,
			Destinations: destinations,
			Clear:        clears,
		})
		if err != nil {
			return fmt.Errorf("setting roles: %w", err)
		}

		printRoots(roots)
		return nil
	},
}

var volumesEjectCmd = &cobra.Command{
	Use:   "eject NAME",
	Short: "Unmount a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("volumes eject")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Eject(args[0]); err != nil {
			return fmt.Errorf("ejecting %s: %w", args[0], err)
		}

		fmt.Printf("Ejected %s\n", args[0])
		return nil
	},
}

// roots command
var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "Show the current source and destination roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("roots")
		if err != nil {
			return err
		}
		defer a.Close()

		printRoots(a.Service().Roots())
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a snapshot of the source onto the destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		svc := a.Service()
		resp := svc.RunBackup()
		switch resp.Outcome {
		case backup.RunAlreadyRunning:
			return fmt.Errorf("backup already running since %s", resp.StartTime.Format("2006-01-02 15:04:05"))
		case backup.RunRejected:
			return fmt.Errorf("backup not started: %s", resp.Reason)
		}

		live := term.IsTerminal(int(os.Stdout.Fd()))
		st := svc.JobStatus()
		for st.State == backup.JobRunning {
			if live {
				fmt.Printf("\rRunning %s", st.Elapsed.Truncate(time.Second))
			}
			time.Sleep(pollInterval)
			st = svc.JobStatus()
		}
		if live {
			fmt.Print("\r\033[K")
		}

		r := st.Result
		if r == nil {
			return errors.New("backup finished without a result")
		}
		if !r.Succeeded() {
			if r.PartialPath != "" {
				fmt.Printf("Partial copy left at %s\n", r.PartialPath)
			}
			return fmt.Errorf("backup failed: %s", r.Error)
		}

		fmt.Printf("Snapshot %s written to %s in %s\n",
			r.SnapshotName, r.SnapshotPath, r.EndTime.Sub(r.StartTime).Truncate(time.Millisecond))
		if !r.HashMatch {
			return fmt.Errorf("hash mismatch: source %s, snapshot %s", r.SourceHash, r.DestinationHash)
		}
		fmt.Printf("Verified (%s %s)\n", r.HashAlgorithm, r.DestinationHash)
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshots on the destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Service().ListSnapshots()
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		for _, e := range entries {
			if e.Error != "" {
				fmt.Printf("%-12s  %-20s  %s\n", e.Name, "?", e.Error)
				continue
			}
			verified := "verified"
			switch {
			case e.Metadata.Status != backup.StatusSuccess:
				verified = "-"
			case !e.Metadata.HashMatch:
				verified = "MISMATCH"
			}
			fmt.Printf("%-12s  %s  %-8s  %-8s  %s\n",
				e.Name,
				e.Metadata.StartTime.Local().Format("2006-01-02 15:04:05"),
				e.Metadata.Status,
				verified,
				e.FilebrowserURI,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Service().History(limit)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No backup jobs recorded.")
			return nil
		}

		for _, r := range records {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-10s  %-8s  %-10s  %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.SnapshotName,
				r.Status,
				duration,
				r.Error,
			)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and watch for volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Listening on %s\n", a.Config().Server.Listen)
		return a.Serve(ctx)
	},
}

func printRoots(roots backup.Roots) {
	show := func(p string) string {
		if p == "" {
			return "(undefined)"
		}
		return p
	}
	fmt.Printf("Source:      %s\n", show(roots.Source))
	fmt.Printf("Destination: %s\n", show(roots.Destination))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// volumes subcommands
	volumesCmd.AddCommand(volumesListCmd)
	volumesCmd.AddCommand(volumesRolesCmd)
	volumesRolesCmd.Flags().StringSlice("source", nil, "Volumes to mark as source")
	volumesRolesCmd.Flags().StringSlice("dest", nil, "Volumes to mark as destination")
	volumesRolesCmd.Flags().StringSlice("clear", nil, "Volumes to clear both roles from")
	volumesCmd.AddCommand(volumesEjectCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(volumesCmd)
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of jobs to show")
	rootCmd.AddCommand(serveCmd)
}
