package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/internal/filesystem"
	tarboxfuse "github.com/tarbox/tarbox/internal/fuse"
	"github.com/tarbox/tarbox/internal/mount"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath string
	tenantName string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tarbox",
	Short: "Tarbox - multi-tenant versioned filesystem on a relational store",
	Long: `Tarbox is a multi-tenant, versioned, POSIX-compatible filesystem whose
state lives in a relational database. Writes accumulate as layers; any
checkpoint can be revisited, published to other tenants, or snapshotted
per mount point.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&tenantName, "tenant", "t", "", "tenant name")
	rootCmd.AddCommand(migrateCmd, mountCmd, gcCmd, serveCmd, versionCmd)
	mountCmd.Flags().String("apply", "", "apply a declarative mount document before mounting")
	mountCmd.Flags().String("dir", "", "host directory to mount on")
}

func openBackend() (*filesystem.Backend, *config.Configuration, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Logging.Level), JSONOutput: cfg.Logging.JSONOutput})
	db, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return filesystem.NewBackend(db, cfg), cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tarbox %s (%s)\n", Version, Commit)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		fmt.Println("schema up to date")
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep idle unreferenced text blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		deleted, err := backend.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d text blocks\n", deleted)
		return nil
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount a tenant's namespace over FUSE",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			return fmt.Errorf("--dir is required")
		}
		if tenantName == "" {
			return fmt.Errorf("--tenant is required")
		}
		backend, _, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		ctx := cmd.Context()
		tenant, err := backend.GetTenant(ctx, tenantName)
		if err != nil {
			return err
		}

		if apply, _ := cmd.Flags().GetString("apply"); apply != "" {
			data, err := os.ReadFile(apply)
			if err != nil {
				return err
			}
			entries, err := mount.ParseDeclaration(data)
			if err != nil {
				return err
			}
			if err := backend.Mounts().SetEntries(ctx, tenant.ID, entries); err != nil {
				return err
			}
		}

		server, err := tarboxfuse.Mount(dir, backend.Session(tenant.ID))
		if err != nil {
			return err
		}
		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			_ = server.Unmount()
		}()
		server.Wait()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, cfg, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(backend.Metrics().Registry(), promhttp.HandlerOpts{}))
		serveLogger := log.WithComponent("serve")
		serveLogger.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics endpoint up")
		return http.ListenAndServe(cfg.Metrics.Listen, mux)
	},
}
