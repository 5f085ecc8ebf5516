package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/sqlmirror/tablemirror/apply"
	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/config"
	"github.com/sqlmirror/tablemirror/events"
	"github.com/sqlmirror/tablemirror/ledger"
	"github.com/sqlmirror/tablemirror/mssqlconn"
	"github.com/sqlmirror/tablemirror/orchestrator"
)

var version string

type cliOptions struct {
	SourceHost     string `long:"source-host" description:"Host of the source SQL Server instance" value-name:"host_name" default:"127.0.0.1"`
	SourcePort     uint   `long:"source-port" description:"Port of the source SQL Server instance" value-name:"port_num" default:"1433"`
	SourceUser     string `long:"source-user" description:"Source SQL Server user name" value-name:"user_name" default:"sa"`
	SourcePassword string `long:"source-password" description:"Source SQL Server user password, overridden by $SOURCE_MSSQL_PWD" value-name:"password"`
	SourceDatabase string `long:"source-database" description:"Source database name" value-name:"db_name" required:"true"`

	DestHost     string `long:"dest-host" description:"Host of the destination SQL Server instance" value-name:"host_name" default:"127.0.0.1"`
	DestPort     uint   `long:"dest-port" description:"Port of the destination SQL Server instance" value-name:"port_num" default:"1433"`
	DestUser     string `long:"dest-user" description:"Destination SQL Server user name" value-name:"user_name" default:"sa"`
	DestPassword string `long:"dest-password" description:"Destination SQL Server user password, overridden by $DEST_MSSQL_PWD" value-name:"password"`
	DestDatabase string `long:"dest-database" description:"Destination database name" value-name:"db_name" required:"true"`

	PasswordPrompt bool   `long:"password-prompt" description:"Force a password prompt for both source and destination"`
	TablesFile     string `long:"tables-file" description:"YAML file listing the tables to sync" value-name:"yaml_file" required:"true"`
	RunConfigFile  string `long:"config-file" description:"YAML file overriding run configuration defaults" value-name:"yaml_file"`

	Help    bool `long:"help" description:"Show this help"`
	Version bool `long:"version" description:"Show this version"`
}

func main() {
	events.InitSlog()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := run(ctx, opts); err != nil {
		slog.Error("sync run failed", "error", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (*cliOptions, error) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"
	_, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	opts.SourcePassword = resolvePassword("SOURCE_MSSQL_PWD", opts.SourcePassword, opts.PasswordPrompt, "Enter source password: ")
	opts.DestPassword = resolvePassword("DEST_MSSQL_PWD", opts.DestPassword, opts.PasswordPrompt, "Enter destination password: ")

	return &opts, nil
}

func resolvePassword(envVar, fallback string, prompt bool, promptMessage string) string {
	if password, ok := os.LookupEnv(envVar); ok {
		return password
	}
	if prompt {
		fmt.Print(promptMessage)
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatal(err)
		}
		return string(pass)
	}
	return fallback
}

func run(ctx context.Context, opts *cliOptions) error {
	sourceDB, err := mssqlconn.Open(ctx, mssqlconn.Config{
		Host: opts.SourceHost, Port: int(opts.SourcePort),
		User: opts.SourceUser, Password: opts.SourcePassword, Database: opts.SourceDatabase,
	})
	if err != nil {
		return fmt.Errorf("opening source connection: %w", err)
	}
	defer sourceDB.Close()

	destDB, err := mssqlconn.Open(ctx, mssqlconn.Config{
		Host: opts.DestHost, Port: int(opts.DestPort),
		User: opts.DestUser, Password: opts.DestPassword, Database: opts.DestDatabase,
	})
	if err != nil {
		return fmt.Errorf("opening destination connection: %w", err)
	}
	defer destDB.Close()

	tablesDoc, err := os.ReadFile(opts.TablesFile)
	if err != nil {
		return fmt.Errorf("reading tables file: %w", err)
	}
	tableConfigs, err := config.ParseTableSyncConfigs(tablesDoc)
	if err != nil {
		return err
	}

	runCfg := config.Defaults()
	if opts.RunConfigFile != "" {
		doc, err := os.ReadFile(opts.RunConfigFile)
		if err != nil {
			return fmt.Errorf("reading run config file: %w", err)
		}
		runCfg, err = config.ParseRunConfig(doc)
		if err != nil {
			return err
		}
	}

	reader := catalog.NewReader(sourceDB)
	syncLedger := ledger.New(destDB, runCfg.LedgerSchema, runCfg.LedgerTable)
	if err := syncLedger.Initialize(ctx); err != nil {
		return err
	}

	queue := events.NewQueue(256)
	go logEvents(queue)

	runID := events.NewRunID()
	orch := &orchestrator.Orchestrator{
		Source:            sourceDB,
		Dest:              destDB,
		Reader:            reader,
		Ledger:            syncLedger,
		Applier:           apply.New(destDB, runCfg.BatchSize),
		Events:            queue,
		MaxParallelTables: runCfg.MaxParallelTables,
	}

	var schemas []*catalog.TableSchema
	configByTable := make(map[string]orchestrator.TableConfig, len(tableConfigs))
	for _, tc := range tableConfigs {
		ref := catalog.TableRef{Schema: tc.Schema, Name: tc.Table}
		schema, err := reader.ReadSchema(ctx, ref)
		if err != nil {
			return err
		}
		schemas = append(schemas, schema)
		configByTable[ref.String()] = orchestrator.TableConfig{
			Ref:                ref,
			PrimaryKeyOverride: tc.PrimaryKey,
			WhereClause:        tc.WhereClause,
		}
	}

	summary := orch.RunAll(ctx, runID.String(), schemas, configByTable)
	queue.Close()

	if summary.TablesFailed > 0 {
		return fmt.Errorf("%d table(s) failed to sync", summary.TablesFailed)
	}
	return nil
}

func logEvents(queue *events.Queue) {
	for e := range queue.Events() {
		switch e.Kind {
		case events.TableFailed:
			slog.Error("table sync failed", "table", e.Table, "error", e.Err)
		case events.RunSummary:
			slog.Info("run summary", "tables_total", e.TablesTotal, "tables_ok", e.TablesOK, "tables_failed", e.TablesFailed)
		default:
			slog.Info(string(e.Kind), "table", e.Table, "inserted", e.Inserted, "updated", e.Updated, "deleted", e.Deleted, "strategy", e.Strategy)
		}
	}
}
