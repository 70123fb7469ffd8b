// Command chimport loads a SEAD clearinghouse submission workbook, repairs
// and validates it against a live schema, and streams a deterministic XML
// artifact for staging.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
	"github.com/sead-project/clearinghouse-import/internal/config"
	"github.com/sead-project/clearinghouse-import/internal/metrics"
	"github.com/sead-project/clearinghouse-import/internal/orchestrator"
	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/store"
)

// Version is set via ldflags at build time.
var Version = "dev"

var flags struct {
	outputFolder   string
	host           string
	database       string
	user           string
	port           int
	tableNames     string
	xmlFilename    string
	dataTypes      string
	submissionID   int64
	checkOnly      bool
	register       bool
	explode        bool
	tidyXML        bool
	timestamp      bool
	transferFormat string
	skip           bool
	metricsAddr    string
	debug          bool
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("chimport failed")
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chimport <config-path> <input-path>",
		Short:        "Import a SEAD clearinghouse submission workbook",
		Version:      Version,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().StringVar(&flags.outputFolder, "output-folder", ".", "directory the XML artifact is written to")
	cmd.Flags().StringVar(&flags.host, "host", "", "database host override")
	cmd.Flags().StringVar(&flags.database, "database", "", "database name override")
	cmd.Flags().StringVar(&flags.user, "user", "", "database user override")
	cmd.Flags().IntVar(&flags.port, "port", 0, "database port override")
	cmd.Flags().StringVar(&flags.tableNames, "table-names", "", "comma-separated table names to restrict dispatch to")
	cmd.Flags().StringVar(&flags.xmlFilename, "xml-filename", "", "reuse a previously emitted artifact instead of dispatching")
	cmd.Flags().StringVar(&flags.dataTypes, "data-types", "", "free-form data-types label recorded on registration")
	cmd.Flags().Int64Var(&flags.submissionID, "id", 0, "reuse a registered submission id instead of registering a new one")
	cmd.Flags().BoolVar(&flags.checkOnly, "check-only", false, "validate and print diagnostics without writing an artifact")
	cmd.Flags().BoolVar(&flags.register, "register", true, "register and upload the artifact to the store")
	cmd.Flags().BoolVar(&flags.explode, "explode", true, "explode the staged submission into the public tables")
	cmd.Flags().BoolVar(&flags.tidyXML, "tidy-xml", false, "also write a pretty-printed copy of the artifact")
	cmd.Flags().BoolVar(&flags.timestamp, "timestamp", false, "suffix the artifact filename with a timestamp")
	cmd.Flags().StringVar(&flags.transferFormat, "transfer-format", "xml", "staging transfer format: xml or csv")
	cmd.Flags().BoolVar(&flags.skip, "skip", false, "skip this submission entirely")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address for the run's duration")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "enable debug-level logging")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if flags.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	configPath, inputPath := args[0], args[1]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cmd, cfg)

	log.Info().Str("version", Version).Str("input", inputPath).Msg("starting chimport")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(cfg.Database.MigrationURL()); err != nil {
		return fmt.Errorf("migrate clearing_house schema: %w", err)
	}

	pool, err := schema.NewPool(ctx, cfg.Database.ConnString(), cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	local := schema.NewLocalPKCache(pool, cfg.Database.HealthCheck)
	var pkCache schema.PKCache = local
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("parse cache.redis_url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pkCache = schema.NewRedisPKCache(local, rdb, cfg.Cache.TTL)
	}
	loader := schema.NewLoader(pool, nil, pkCache)
	sc, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	m := metrics.New()
	if flags.metricsAddr != "" {
		srv := metrics.NewServer(flags.metricsAddr, m)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			_ = srv.Shutdown(ctx)
		}()
	}

	runner := &orchestrator.Runner{Schema: sc, Metrics: m}
	if flags.register || flags.submissionID > 0 || flags.explode {
		runner.Store = store.New(pool, 0)
	}
	if flags.transferFormat == "csv" {
		runner.CSV = store.NewCSVUploader(pool, flags.outputFolder)
	}
	if cfg.Archive.Enabled {
		archiver, err := store.NewArchiver(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseTLS)
		if err != nil {
			return fmt.Errorf("configure archiver: %w", err)
		}
		runner.Archiver = archiver
	}

	opts := orchestrator.Options{
		InputPath:        inputPath,
		OutputFolder:     flags.outputFolder,
		DataTypes:        flags.dataTypes,
		TableNames:       splitCSV(flags.tableNames),
		XMLFilename:      flags.xmlFilename,
		SubmissionID:     flags.submissionID,
		CheckOnly:        flags.checkOnly,
		Register:         flags.register,
		Explode:          flags.explode,
		TidyXML:          flags.tidyXML,
		Timestamp:        flags.timestamp,
		Skip:             flags.skip,
		TransferFormat:   flags.transferFormat,
		IgnoreColumns:    cfg.Policy.IgnoreColumns,
		Policy:           cfg.Policy.ToPolicyConfig(),
		DisabledPolicies: cfg.Policy.DisabledPolicies,
	}

	if err := runner.Run(ctx, opts); err != nil {
		printDiagnostic(err)
		return err
	}

	log.Info().Msg("chimport completed")
	return nil
}

// applyOverrides layers explicit CLI flags over the loaded config, and
// falls back to the config file's output settings for flags the caller
// left at their command-line default.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if flags.host != "" {
		cfg.Database.Host = flags.host
	}
	if flags.database != "" {
		cfg.Database.Database = flags.database
	}
	if flags.user != "" {
		cfg.Database.User = flags.user
	}
	if flags.port != 0 {
		cfg.Database.Port = flags.port
	}

	if !cmd.Flags().Changed("output-folder") && cfg.Output.Folder != "" {
		flags.outputFolder = cfg.Output.Folder
	}
	if !cmd.Flags().Changed("transfer-format") && cfg.Output.TransferFormat != "" {
		flags.transferFormat = cfg.Output.TransferFormat
	}
	if !cmd.Flags().Changed("tidy-xml") {
		flags.tidyXML = cfg.Output.TidyXML
	}
	if !cmd.Flags().Changed("timestamp") {
		flags.timestamp = cfg.Output.Timestamp
	}
	if !cmd.Flags().Changed("metrics-addr") && cfg.Metrics.Enabled {
		flags.metricsAddr = cfg.Metrics.Address
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printDiagnostic renders a run failure as a table on stderr — one row per
// specification error, or a single row holding any other error — so a failed
// run has something to look at beyond the log lines.
func printDiagnostic(err error) {
	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"diagnostic"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	var specErr *cherr.SpecificationFailed
	if errors.As(err, &specErr) {
		for _, m := range specErr.Messages {
			table.Append([]string{m})
		}
	} else {
		table.Append([]string{err.Error()})
	}

	table.Render()
}
