// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the meerkatdb server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for production Docker image

	"github.com/meerkatdb/meerkatdb/build/version"
	"github.com/meerkatdb/meerkatdb/internal/backends/memory"
	"github.com/meerkatdb/meerkatdb/internal/cdc"
	"github.com/meerkatdb/meerkatdb/internal/cdc/objstore"
	"github.com/meerkatdb/meerkatdb/internal/clickhouse"
	"github.com/meerkatdb/meerkatdb/internal/clientconn"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler"
	"github.com/meerkatdb/meerkatdb/internal/util/debug"
	"github.com/meerkatdb/meerkatdb/internal/util/debugbuild"
	"github.com/meerkatdb/meerkatdb/internal/util/logging"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
	"github.com/meerkatdb/meerkatdb/internal/util/observability"
	"github.com/meerkatdb/meerkatdb/internal/util/password"
	"github.com/meerkatdb/meerkatdb/internal/util/state"
	"github.com/meerkatdb/meerkatdb/internal/util/telemetry"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	Version  bool   `default:"false" help:"Print version to stdout and exit." env:"-"`
	StateDir string `default:"."     help:"Process state directory."`

	Listen struct {
		Addr        string `default:"127.0.0.1:27017" help:"Listen TCP address."`
		TLS         string `default:""                help:"Listen TLS address."`
		TLSCertFile string `default:""                help:"TLS cert file path."`
		TLSKeyFile  string `default:""                help:"TLS key file path."`
		TLSCAFile   string `default:""                help:"TLS CA file path." name:"tls-ca-file"`
	} `embed:"" prefix:"listen-"`

	DebugAddr string `default:"127.0.0.1:8088" help:"Listen address for HTTP handlers for metrics, pprof, etc."`

	Setup struct {
		Username string `default:"" help:"Username of the user created on startup in the admin database."`
		Password string `default:"" help:"Password of the user created on startup."`
	} `embed:"" prefix:"setup-"`

	Auth           bool   `default:"false"     help:"Require authentication." negatable:""`
	CredentialsURL string `default:"memory://" help:"Credential store URL: 'memory://', 'file:<path>', or 'postgres://...'."`

	Log struct {
		Level  string `default:"${default_log_level}" help:"${help_log_level}"`
		Format string `default:"console"              help:"${help_log_format}" enum:"${enum_log_format}"`
		UUID   bool   `default:"false"                help:"Add instance UUID to all log messages." negatable:""`
	} `embed:"" prefix:"log-"`

	MetricsUUID bool `default:"false" help:"Add instance UUID to all metrics." negatable:""`

	OtelTracesURL string `default:"" help:"OpenTelemetry OTLP/HTTP traces endpoint URL. Empty disables tracing."`

	Telemetry telemetry.Flag `default:"undecided" help:"Enable or disable basic telemetry: '1', '0', or 'undecided'."`

	CDC struct {
		S3 struct {
			Endpoint        string `default:"" help:"S3 endpoint URL. Empty uses AWS."`
			Region          string `default:"" help:"S3 region."`
			Bucket          string `default:"" help:"S3 bucket with staged change files. Empty disables CDC."`
			AccessKeyID     string `default:"" help:"S3 access key ID."`
			SecretAccessKey string `default:"" help:"S3 secret access key."`
		} `embed:"" prefix:"s3-"`

		Path            string        `default:"cdc/*/*/*/*.parquet" help:"Glob for staged files to ingest."`
		Format          string        `default:"Parquet"             help:"Staged file format." enum:"Parquet,JSONEachRow,CSV"`
		PollInterval    time.Duration `default:"1s"                  help:"Polling cadence."`
		MaxThreads      int           `default:"4"                   help:"Parallel ingestion worker count."`
		MaxBlockSize    int           `default:"65536"               help:"Rows per insert batch."`
		AfterProcessing string        `default:"keep"                help:"What to do with a processed file." enum:"keep,delete"`
		Ordered         bool          `default:"false"               help:"Process files in path order with a single worker." negatable:""`

		ClickHouse struct {
			Addr     []string `default:"127.0.0.1:9000" help:"ClickHouse native protocol addresses."`
			Username string   `default:"default"        help:"ClickHouse username."`
			Password string   `default:""               help:"ClickHouse password."`
			Database string   `default:"meerkatdb"      help:"ClickHouse database."`
			Table    string   `default:"realtime"       help:"ClickHouse realtime table."`
			TTLDays  int      `default:"0"              help:"Realtime table TTL in days. Zero disables." name:"ttl-days"`

			Partition bool `default:"false" help:"Partition the realtime table by collection and month." negatable:""`
		} `embed:"" prefix:"clickhouse-"`
	} `embed:"" prefix:"cdc-"`

	Test struct {
		RecordsDir string `default:"" help:"Testing: directory for record files."`

		Telemetry struct {
			URL            string        `default:"https://telemetry.meerkatdb.example/" help:"Telemetry: reporting URL."`
			UndecidedDelay time.Duration `default:"1h"                                   help:"Telemetry: delay for undecided state."`
			ReportInterval time.Duration `default:"24h"                                  help:"Telemetry: report interval."`
			ReportTimeout  time.Duration `default:"5s"                                   help:"Telemetry: report timeout."`
		} `embed:"" prefix:"telemetry-"`
	} `embed:"" prefix:"test-"`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	logFormats = []string{"console", "json"}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_log_format": strings.Join(logFormats, ","),

			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logFormats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
		},
		kong.DefaultEnvars("MEERKATDB"),
	}
)

func main() {
	kong.Parse(&cli, kongOptions...)

	run()
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DebugBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// setupState setups state provider.
func setupState() *state.Provider {
	var f string

	// https://github.com/alecthomas/kong/issues/389
	if cli.StateDir != "" && cli.StateDir != "-" {
		var err error
		if f, err = filepath.Abs(filepath.Join(cli.StateDir, "state.json")); err != nil {
			log.Fatalf("Failed to get path for state file: %s.", err)
		}
	}

	sp, err := state.NewProvider(f)
	if err != nil {
		log.Fatalf("Failed to create state provider: %s.", err)
	}

	return sp
}

// setupMetrics setups Prometheus metrics registerer with some metrics.
func setupMetrics(stateProvider *state.Provider) prometheus.Registerer {
	r := prometheus.DefaultRegisterer
	m := stateProvider.MetricsCollector(true)

	// we don't do it by default due to
	// https://prometheus.io/docs/instrumenting/writing_exporters/#target-labels-not-static-scraped-labels
	if cli.MetricsUUID {
		r = prometheus.WrapRegistererWith(
			prometheus.Labels{"uuid": stateProvider.Get().UUID},
			prometheus.DefaultRegisterer,
		)
		m = stateProvider.MetricsCollector(false)
	}

	r.MustRegister(m)

	return r
}

// setupLogger setups zap logger.
func setupLogger(stateProvider *state.Provider, format string) *zap.Logger {
	info := version.Get()

	startupFields := []zap.Field{
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("debugBuild", info.DebugBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
	}
	logUUID := stateProvider.Get().UUID

	// Similarly to Prometheus, unless requested, don't add UUID to all messages, but log it once at startup.
	if !cli.Log.UUID {
		startupFields = append(startupFields, zap.String("uuid", logUUID))
		logUUID = ""
	}

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, format, logUUID)
	l := zap.L()

	l.Info("Starting MeerkatDB "+info.Version+"...", startupFields...)

	if debugbuild.Enabled {
		l.Info("This is debug build. The performance will be affected.")
	}

	return l
}

// runTelemetryReporter runs the telemetry reporter until ctx is canceled.
func runTelemetryReporter(ctx context.Context, opts *telemetry.NewReporterOpts) {
	r, err := telemetry.NewReporter(opts)
	if err != nil {
		opts.L.Sugar().Fatalf("Failed to create telemetry reporter: %s.", err)
	}

	r.Run(ctx)
}

// runCDCIngester constructs the CDC pipeline and runs it until ctx is canceled.
func runCDCIngester(ctx context.Context, metricsRegisterer prometheus.Registerer, logger *zap.Logger) {
	store, err := objstore.NewS3(ctx, &objstore.S3Params{
		Endpoint:        cli.CDC.S3.Endpoint,
		Region:          cli.CDC.S3.Region,
		Bucket:          cli.CDC.S3.Bucket,
		AccessKeyID:     cli.CDC.S3.AccessKeyID,
		SecretAccessKey: cli.CDC.S3.SecretAccessKey,
		L:               logger.Named("s3"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct object store: %s.", err)
	}

	dest, err := clickhouse.NewStore(ctx, &clickhouse.NewStoreParams{
		Addr:     cli.CDC.ClickHouse.Addr,
		Username: cli.CDC.ClickHouse.Username,
		Password: cli.CDC.ClickHouse.Password,
		TableOptions: &clickhouse.TableOptions{
			Database:              cli.CDC.ClickHouse.Database,
			Table:                 cli.CDC.ClickHouse.Table,
			Shared:                true,
			PartitionByCollection: cli.CDC.ClickHouse.Partition,
			TTLDays:               cli.CDC.ClickHouse.TTLDays,
		},
		SourceDatabase: cli.CDC.ClickHouse.Database,
		L:              logger.Named("clickhouse"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct CDC destination: %s.", err)
	}

	defer dest.Close() //nolint:errcheck // we are exiting anyway

	if err = dest.CreateTables(ctx); err != nil {
		logger.Sugar().Fatalf("Failed to create CDC destination tables: %s.", err)
	}

	ing, err := cdc.NewIngester(&cdc.NewIngesterParams{
		Config: &cdc.Config{
			Endpoint:        cli.CDC.S3.Endpoint,
			Bucket:          cli.CDC.S3.Bucket,
			PathGlob:        cli.CDC.Path,
			Format:          cdc.Format(cli.CDC.Format),
			PollInterval:    cli.CDC.PollInterval,
			MaxThreads:      cli.CDC.MaxThreads,
			MaxBlockSize:    cli.CDC.MaxBlockSize,
			AfterProcessing: cdc.AfterProcessing(cli.CDC.AfterProcessing),
			OrderedMode:     cli.CDC.Ordered,
		},
		Store:       store,
		Destination: dest,
		L:           logger.Named("cdc"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct CDC ingester: %s.", err)
	}

	metricsRegisterer.MustRegister(ing)

	if err = ing.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("CDC ingester stopped", zap.Error(err))
	}
}

// setupAuth stores the configured user's credential in the admin database.
func setupAuth(creds credentials.Provider, logger *zap.Logger) {
	if cli.Setup.Username == "" {
		return
	}

	hash, err := password.SCRAMSHA256Hash(cli.Setup.Password)
	if err != nil {
		logger.Sugar().Fatalf("Failed to hash setup password: %s.", err)
	}

	cred := &credentials.Credential{
		Username:       cli.Setup.Username,
		AuthDB:         "admin",
		StoredKey:      hash.StoredKey,
		ServerKey:      hash.ServerKey,
		Salt:           hash.Salt,
		IterationCount: hash.IterationCount,
	}

	err = creds.Store(context.Background(), cred)
	if err != nil && !errors.Is(err, credentials.ErrAlreadyExists) {
		logger.Sugar().Fatalf("Failed to create setup user: %s.", err)
	}
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics() {
	mfs := must.NotFail(prometheus.DefaultGatherer.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// run sets up environment based on provided flags and runs MeerkatDB.
func run() {
	// to increase a chance of resource finalizers to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	info := version.Get()

	if cli.Version {
		fmt.Fprintln(os.Stdout, "version:", info.Version)
		fmt.Fprintln(os.Stdout, "commit:", info.Commit)
		fmt.Fprintln(os.Stdout, "dirty:", info.Dirty)
		fmt.Fprintln(os.Stdout, "debugBuild:", info.DebugBuild)

		return
	}

	// safe to always enable
	runtime.SetBlockProfileRate(10000)

	stateProvider := setupState()

	metricsRegisterer := setupMetrics(stateProvider)

	logger := setupLogger(stateProvider, cli.Log.Format)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	if cli.OtelTracesURL != "" {
		shutdown, err := observability.SetupOtel("meerkatdb", cli.OtelTracesURL)
		if err != nil {
			logger.Sugar().Fatalf("Failed to set up OpenTelemetry: %s.", err)
		}

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			if err = shutdown(shutdownCtx); err != nil {
				logger.Sugar().Warnf("Failed to shutdown OpenTelemetry: %s.", err)
			}
		}()
	}

	ctx, stop := notifyAppTermination(context.Background())

	go func() {
		<-ctx.Done()
		logger.Info("Stopping...")
		stop()
	}()

	var wg sync.WaitGroup

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		wg.Add(1)

		go func() {
			defer wg.Done()
			debug.RunHandler(ctx, cli.DebugAddr, metricsRegisterer, logger.Named("debug"))
		}()
	}

	metrics := connmetrics.NewListenerMetrics()

	wg.Add(1)

	go func() {
		defer wg.Done()
		runTelemetryReporter(
			ctx,
			&telemetry.NewReporterOpts{
				URL:            cli.Test.Telemetry.URL,
				F:              &cli.Telemetry,
				DNT:            os.Getenv("DO_NOT_TRACK"),
				ExecName:       os.Args[0],
				P:              stateProvider,
				ConnMetrics:    metrics.ConnMetrics,
				L:              logger.Named("telemetry"),
				UndecidedDelay: cli.Test.Telemetry.UndecidedDelay,
				ReportInterval: cli.Test.Telemetry.ReportInterval,
				ReportTimeout:  cli.Test.Telemetry.ReportTimeout,
			},
		)
	}()

	if cli.CDC.S3.Bucket != "" {
		wg.Add(1)

		go func() {
			defer wg.Done()
			runCDCIngester(ctx, metricsRegisterer, logger)
		}()
	}

	b, err := memory.NewBackend(&memory.NewBackendParams{
		L: logger.Named("memory"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct backend: %s.", err)
	}

	creds, err := credentials.NewProvider(cli.CredentialsURL, logger.Named("credentials"))
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct credential store: %s.", err)
	}

	setupAuth(creds, logger)

	h, err := handler.New(&handler.NewOpts{
		Backend:     b,
		Credentials: creds,
		L:           logger.Named("handler"),
		ConnMetrics: metrics.ConnMetrics,
		Auth:        cli.Auth,
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct handler: %s.", err)
	}

	defer h.Close()

	metricsRegisterer.MustRegister(h)

	l := clientconn.NewListener(&clientconn.NewListenerOpts{
		TCP:         cli.Listen.Addr,
		TLS:         cli.Listen.TLS,
		TLSCertFile: cli.Listen.TLSCertFile,
		TLSKeyFile:  cli.Listen.TLSKeyFile,
		TLSCAFile:   cli.Listen.TLSCAFile,

		Metrics:    metrics,
		Handler:    h,
		Logger:     logger,
		RecordsDir: cli.Test.RecordsDir,
	})

	metricsRegisterer.MustRegister(l)

	err = l.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("Listener stopped")
	} else {
		logger.Error("Listener stopped", zap.Error(err))
	}

	stop()

	wg.Wait()

	if info.DebugBuild {
		dumpMetrics()
	}
}
