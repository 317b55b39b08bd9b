// Package commands implements CLI command handlers for polystats.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/polystats/pkg/config"
	"github.com/Sumatoshi-tech/polystats/pkg/observability"
	"github.com/Sumatoshi-tech/polystats/pkg/persist"
	"github.com/Sumatoshi-tech/polystats/pkg/pipeline"
	"github.com/Sumatoshi-tech/polystats/pkg/plot"
	"github.com/Sumatoshi-tech/polystats/pkg/raster"
	"github.com/Sumatoshi-tech/polystats/pkg/raster/gdal"
	"github.com/Sumatoshi-tech/polystats/pkg/vector"
	"github.com/Sumatoshi-tech/polystats/pkg/version"
)

const (
	defaultVariable       = "data"
	defaultMaskVariable   = "mask"
	netcdfExtension       = ".nc"
	metricsPath           = "/metrics"
	metricsReadTimeout    = 5 * time.Second
	metricsShutdownPeriod = 2 * time.Second
)

// ErrMissingFlag is returned when a required path flag is empty.
var ErrMissingFlag = errors.New("missing required flag")

// sourceOpener opens the raster at path.
type sourceOpener func(path, variable string) (raster.Source, io.Closer, error)

// vectorLoader loads the polygons at path.
type vectorLoader func(ctx context.Context, path string, opts vector.ReadOptions) (*vector.Collection, error)

// RunCommand holds flags and dependencies for the run command.
type RunCommand struct {
	inPath     string
	variable   string
	vecPath    string
	outPath    string
	maskPath   string
	maskVar    string
	plotPath   string
	configPath string
	silent     bool
	noColor    bool
	showTable  bool

	openSource  sourceOpener
	loadVectors vectorLoader
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(openRaster, vector.ReadShapefile)
}

// openRaster reads .nc files natively and everything else, GeoTIFF first of
// all, through GDAL. variable only applies to NetCDF.
func openRaster(path, variable string) (raster.Source, io.Closer, error) {
	if strings.EqualFold(filepath.Ext(path), netcdfExtension) {
		src, err := raster.OpenNetCDF(path, variable)
		if err != nil {
			return nil, nil, err
		}

		return src, src, nil
	}

	src, err := gdal.Open(path)
	if err != nil {
		return nil, nil, err
	}

	return src, src, nil
}

func newRunCommandWithDeps(openSource sourceOpener, loadVectors vectorLoader) *cobra.Command {
	rc := &RunCommand{
		openSource:  openSource,
		loadVectors: loadVectors,
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute per-polygon and per-class statistics",
		Long: `Rasterize every polygon of --vec onto the grid of --in, once by polygon
identifier and once by the --field class attribute, and accumulate count,
mean and variance of the valid pixels under each label.

The report format follows the --out extension: .xml, .json, .yaml or .yml,
optionally followed by .lz4, .zst or .sz for compressed output.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.inPath, "in", "", "Input raster (.nc read natively, GeoTIFF and other formats through GDAL)")
	cmd.Flags().StringVar(&rc.variable, "var", defaultVariable, "Raster variable inside a NetCDF input")
	cmd.Flags().StringVar(&rc.vecPath, "vec", "", "Input polygons (shapefile)")
	cmd.Flags().StringVar(&rc.outPath, "out", "", "Output report path")
	cmd.Flags().StringVar(&rc.maskPath, "mask", "", "Optional validity mask raster (zero = invalid)")
	cmd.Flags().StringVar(&rc.maskVar, "mask-var", defaultMaskVariable, "Mask variable inside a NetCDF mask")
	cmd.Flags().StringVar(&rc.plotPath, "plot", "", "Optional HTML chart output path")
	cmd.Flags().StringVar(&rc.configPath, "config", "", "Configuration file (default: ./polystats.yaml if present)")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Disable progress output")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&rc.showTable, "table", true, "Print the per-class summary table")

	cmd.Flags().String("field", config.DefaultClassField, "Class attribute burned in the class pass")
	cmd.Flags().String("ram", config.DefaultRAM, "Tile memory budget (e.g. '256MiB', '1GB'; '0' = whole image)")
	cmd.Flags().Int("workers", config.DefaultWorkers, "Tiles processed in parallel")
	cmd.Flags().Int("tile-rows", config.DefaultTileRows, "Force strips of this many rows (0 = derive from --ram)")
	cmd.Flags().Uint32("default-burn", config.DefaultBurn, "Class label for features whose class value is not an integer")
	cmd.Flags().String("nodata", config.DefaultNoDataMode, "No-data rule: auto, value or none")
	cmd.Flags().Float64("nodata-value", config.DefaultNoDataValue, "No-data value when --nodata=value")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "Log format: text or json")
	cmd.Flags().String("log-file", config.DefaultLogFile, "Write logs to this size-rotated file instead of stderr")
	cmd.Flags().String("otlp", config.DefaultOTLPEndpoint, "OTLP gRPC endpoint for traces and metrics")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "Serve Prometheus metrics on this address during the run")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	if rc.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	err := rc.checkPaths()
	if err != nil {
		return err
	}

	// Reject the output format before any computation.
	_, err = persist.FormatForPath(rc.outPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(rc.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	providers, err := observability.Init(cfg.Observability(version.Version), cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() { _ = providers.Shutdown(context.Background()) }()

	runID := uuid.NewString()
	logger := providers.Logger.With("run_id", runID)

	logger.InfoContext(ctx, "run started", "in", rc.inPath, "vec", rc.vecPath, "out", rc.outPath)

	stopMetrics, err := serveMetrics(ctx, cfg.Telemetry.MetricsAddr, providers.MetricsHandler, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	metrics, err := observability.NewPassMetrics(providers.Meter)
	if err != nil {
		return err
	}

	result, err := rc.compute(ctx, cmd, cfg, logger, metrics)
	if err != nil {
		return err
	}

	return rc.write(cmd, result)
}

func (rc *RunCommand) checkPaths() error {
	required := []struct{ name, value string }{
		{"--in", rc.inPath},
		{"--vec", rc.vecPath},
		{"--out", rc.outPath},
	}

	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingFlag, f.name)
		}
	}

	return nil
}

func (rc *RunCommand) compute(
	ctx context.Context, cmd *cobra.Command, cfg *config.Config,
	logger *slog.Logger, metrics *observability.PassMetrics,
) (*pipeline.Result, error) {
	src, closer, err := rc.openSource(rc.inPath, rc.variable)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer closer.Close()

	g := src.Grid()
	rc.statusf(cmd, color.FgCyan, "raster %s: %dx%d, %d band(s), %s pixels",
		rc.inPath, g.Width, g.Height, src.Bands(), humanize.Comma(g.Pixels()))

	coll, err := rc.loadVectors(ctx, rc.vecPath, vector.ReadOptions{
		ClassField: cfg.Stats.ClassField,
		TargetSRS:  g.SRS,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load polygons: %w", err)
	}

	rc.statusf(cmd, color.FgCyan, "polygons %s: %s feature(s)", rc.vecPath, humanize.Comma(int64(len(coll.Features))))

	ram, err := cfg.Stats.MemoryBudget()
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.ClassField = cfg.Stats.ClassField
	pcfg.DefaultBurn = cfg.Stats.DefaultBurn
	pcfg.NoDataMode = cfg.Stats.NoDataMode()
	pcfg.NoDataValue = cfg.Stats.NoData.Value
	pcfg.MemoryBudget = ram
	pcfg.Workers = cfg.Stats.Workers
	pcfg.TileRows = cfg.Stats.TileRows
	pcfg.Logger = logger
	pcfg.Metrics = metrics
	pcfg.Progress = rc.progress(cmd)

	if rc.maskPath != "" {
		mask, maskCloser, maskErr := rc.openSource(rc.maskPath, rc.maskVar)
		if maskErr != nil {
			return nil, fmt.Errorf("open mask: %w", maskErr)
		}
		defer maskCloser.Close()

		pcfg.Mask = mask
	}

	result, err := pipeline.Run(ctx, pcfg, src, coll)
	if err != nil {
		return nil, err
	}

	rc.statusf(cmd, color.FgCyan, "tiles: %d of %dx%d, no-data: %s",
		result.Tiles, result.TileCols, result.TileRows, result.Rule)

	return result, nil
}

func (rc *RunCommand) write(cmd *cobra.Command, result *pipeline.Result) error {
	report := result.Report()

	err := persist.SaveReport(rc.outPath, report)
	if err != nil {
		return err
	}

	rc.statusf(cmd, color.FgGreen, "report written to %s", rc.outPath)

	if rc.plotPath != "" {
		err = plot.WriteFile(rc.plotPath, report)
		if err != nil {
			return err
		}

		rc.statusf(cmd, color.FgGreen, "chart written to %s", rc.plotPath)
	}

	if rc.showTable && !rc.silent {
		_, err = io.WriteString(cmd.OutOrStdout(), renderSummary(result))
		if err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	return nil
}

// progress prints one line per tenth of each pass.
func (rc *RunCommand) progress(cmd *cobra.Command) pipeline.ProgressFunc {
	if rc.silent {
		return nil
	}

	const steps = 10

	return func(pass string, done, total int) {
		if done != total && done%max(total/steps, 1) != 0 {
			return
		}

		rc.statusf(cmd, color.FgYellow, "%s pass: %d/%d tiles", pass, done, total)
	}
}

func (rc *RunCommand) statusf(cmd *cobra.Command, attr color.Attribute, format string, args ...any) {
	if rc.silent {
		return
	}

	_, _ = color.New(attr).Fprintf(cmd.ErrOrStderr(), "progress: "+format+"\n", args...)
}

// serveMetrics starts the Prometheus endpoint when addr is set. The returned
// function stops it.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) (func(), error) {
	if addr == "" || handler == nil {
		return func() {}, nil
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadTimeout}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	logger.InfoContext(ctx, "serving metrics", "addr", listener.Addr().String(), "path", metricsPath)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownPeriod)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
