// Command qcfractal-server is the cobra CLI for the compute-coordination
// kernel: `serve` runs the periodic orchestrator against a persistent
// backend, `manager` is a reference manager-side driver exercising the
// spec §6 wire contract end to end, and `migrate` applies the backend's
// SQL schema. Grounded on the teacher's cmd/bd (a cobra root command
// plus one file per subcommand).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/mysqlstore"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
)

var (
	dbDSN     string
	backend   string
	configPath string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qcfractal-server",
		Short: "Compute-coordination kernel for quantum-chemistry workloads",
		Long: `qcfractal-server runs the record store, task queue, and service
engine described by the project spec: a deduplicating content store,
a claim/heartbeat/return task queue for an untrusted manager fleet,
and a service iteration engine for multi-step procedures.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&dbDSN, "db", "qcfractal.db", "backend DSN (sqlite file path, or mysql DSN with --backend mysql)")
	root.PersistentFlags().StringVar(&backend, "backend", "sqlite", "storage backend: sqlite or mysql")
	root.PersistentFlags().StringVar(&configPath, "config", "qcfractal.toml", "path to the layered config file (spec §6)")

	root.AddCommand(serveCmd())
	root.AddCommand(managerCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(reapCmd())
	return root
}

// openStore opens the configured backend, applying its schema (every
// backend's Open already does this — see internal/storage/sqlstore.NewBase).
func openStore(ctx context.Context) (storage.Store, error) {
	switch backend {
	case "sqlite", "":
		return sqlitestore.Open(ctx, dbDSN)
	case "mysql":
		return mysqlstore.Open(ctx, dbDSN)
	default:
		return nil, fmt.Errorf("unknown --backend %q (want sqlite or mysql)", backend)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the same
// graceful-shutdown trigger the teacher's daemon command installs
// (cmd/bd's rootCtx/rootCancel pair).
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
