// Package cli provides the couchview command-line interface: opening the
// engine's storage, refreshing a view's index, running range/group/reduce
// queries against it, and listing registered design documents. It follows
// the teacher's cobra/viper wiring (persistent --config flag, flag-to-viper
// binding, automatic environment variable mapping) but drops the HTTP
// server, RabbitMQ publishing and JWT/CORS middleware that server carried —
// couchview has no network service of its own (SPEC_FULL.md §1, Non-goals).
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo-org/couchview/common"
	"github.com/evalgo-org/couchview/config"
	"github.com/evalgo-org/couchview/view"
	"github.com/evalgo-org/couchview/view/boltstore"
	"github.com/evalgo-org/couchview/view/kivikstore"
	"github.com/evalgo-org/couchview/view/memdocstore"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag, mirroring the teacher's flag/viper wiring.
var cfgFile string

// RootCmd is couchview's entry point.
var RootCmd = &cobra.Command{
	Use:   "couchview",
	Short: "manage an incremental, persistent secondary-index engine for a document store",
	Long: `couchview

An incremental, persistent secondary-index engine for a document database:
a local "view" subsystem inspired by CouchDB's map/reduce design.

Subcommands:
  update-index   bring a view's persisted index forward to the document
                 store's current sequence
  query          run a range/group/reduce query against a view
  views list     list the design documents currently registered

Configuration can be provided via a --config file, environment variables
prefixed COUCHVIEW_, or command-line flags, in that order of precedence.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./couchview.yaml)")
	RootCmd.PersistentFlags().String("db", "", "bbolt index storage path")
	RootCmd.PersistentFlags().String("document-store", "", "document store kind: mem or kivik")
	RootCmd.PersistentFlags().String("couchdb-url", "", "CouchDB connection URL (document-store=kivik)")
	RootCmd.PersistentFlags().String("couchdb-database", "", "CouchDB database name (document-store=kivik)")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("storage_path", RootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("document_store.kind", RootCmd.PersistentFlags().Lookup("document-store"))
	viper.BindPFlag("document_store.dsn", RootCmd.PersistentFlags().Lookup("couchdb-url"))
	viper.BindPFlag("document_store.database", RootCmd.PersistentFlags().Lookup("couchdb-database"))
	viper.BindPFlag("log_level", RootCmd.PersistentFlags().Lookup("log-level"))

	RootCmd.AddCommand(updateIndexCmd, queryCmd, viewsCmd)
}

// initConfig wires viper the way the teacher's initConfig does: an explicit
// --config file takes priority, otherwise couchview.yaml is searched for in
// the working directory, and COUCHVIEW_-prefixed environment variables are
// read automatically.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("couchview")
	}

	viper.SetEnvPrefix("COUCHVIEW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig merges viper's view of EngineConfig on top of the defaults.
func loadConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	if path := viper.GetString("storage_path"); path != "" {
		cfg.StoragePath = path
	}
	if kind := viper.GetString("document_store.kind"); kind != "" {
		cfg.DocumentStore.Kind = config.DocumentStoreKind(kind)
	}
	if dsn := viper.GetString("document_store.dsn"); dsn != "" {
		cfg.DocumentStore.DSN = dsn
	}
	if name := viper.GetString("document_store.database"); name != "" {
		cfg.DocumentStore.Name = name
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg
}

// openDatabase wires up a view.Database from cfg: a boltstore IndexStore, a
// DocumentStore chosen by cfg.DocumentStore.Kind, and the CLI's built-in
// demonstration design documents.
func openDatabase(ctx context.Context, cfg config.EngineConfig) (*view.Database, func() error, error) {
	if err := config.ValidateEngineConfig(cfg); err != nil {
		return nil, nil, err
	}

	store, err := boltstore.Open(cfg.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index store: %w", err)
	}

	var docs view.DocumentStore
	var closeDocs func() error
	switch cfg.DocumentStore.Kind {
	case config.DocumentStoreKivik:
		kstore, err := kivikstore.Open(ctx, cfg.DocumentStore.DSN, cfg.DocumentStore.Name)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("opening kivik document store: %w", err)
		}
		docs = kstore
		closeDocs = kstore.Close
	default:
		docs = memdocstore.New()
		closeDocs = func() error { return nil }
	}

	entry := logrus.NewEntry(common.Logger).WithField("component", "view")
	db := view.Open(store, docs, entry)
	if err := registerBuiltinDesignDocs(db); err != nil {
		db.Close()
		closeDocs()
		return nil, nil, fmt.Errorf("registering built-in design documents: %w", err)
	}

	closer := func() error {
		dbErr := db.Close()
		docsErr := closeDocs()
		if dbErr != nil {
			return dbErr
		}
		return docsErr
	}
	return db, closer, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "couchview: encoding output:", err)
	}
}
