package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"syncq/internal/cli"
	"syncq/internal/config"
	"syncq/internal/logging"
	"syncq/internal/report"
	"syncq/internal/runner"
	"syncq/internal/stats"
	"syncq/internal/storage"
	"syncq/internal/tui"
	"syncq/internal/tui/history"
)

// ExitThresholds is the k6 exit status for failed thresholds.
const ExitThresholds = 99

const defaultHistory = "default"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a WebSocket load test",
	Example: `  syncq run -u ws://localhost:8080/ws -U 50 -d 1m --interval 200ms
  syncq run --config scenario.yaml --tui
  syncq run -u ws://localhost:8080/ws/code --mode simple --threshold "websocket_rtt:p(95)<100"`,
	RunE: runLoad,
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"url":              "url",
	"insecure":         "insecure",
	"vus":              "vus",
	"duration":         "duration",
	"iterations":       "iterations",
	"spawn-rate":       "spawn_rate",
	"connect-timeout":  "connect_timeout",
	"stall-timeout":    "stall_timeout",
	"close-grace":      "close_grace",
	"burst":            "burst",
	"burst-gap":        "burst_gap",
	"interval":         "interval",
	"request-response": "request_response",
	"think-time":       "think_time",
	"ping-interval":    "ping_interval",
	"messages":         "messages",
	"session-duration": "session_duration",
	"mode":             "payload.mode",
	"correlation":      "correlation",
	"max-samples":      "max_samples",
	"out":              "out",
	"format":           "format",
	"metrics-addr":     "metrics_addr",
	"redis-addr":       "redis.addr",
	"history":          "history",
	"log-level":        "log.level",
	"log-file":         "log.file",
}

func init() {
	f := runCmd.Flags()
	f.StringP("url", "u", "", "Target WebSocket URL (ws:// or wss://)")
	f.StringSliceP("header", "H", nil, "Handshake header (e.g. \"Key: Value\")")
	f.Bool("insecure", false, "Skip TLS verification")
	f.IntP("vus", "U", 1, "Concurrent virtual users")
	f.DurationP("duration", "d", 30*time.Second, "Run deadline")
	f.IntP("iterations", "i", 1, "Sessions per user, 0 = loop until the deadline")
	f.Float64("spawn-rate", 0, "Users started per second, 0 = all at once")
	f.Duration("connect-timeout", 10*time.Second, "Handshake timeout")
	f.Duration("stall-timeout", 35*time.Second, "Fail a session after this long without a message")
	f.Duration("close-grace", 2*time.Second, "Wait for the close handshake this long")
	f.Int("burst", 0, "Messages sent right after connecting")
	f.Duration("burst-gap", 0, "Gap between burst messages")
	f.Duration("interval", 0, "Send period after the burst")
	f.Bool("request-response", false, "Send the next message only after the previous reply")
	f.Duration("think-time", 0, "Pause between request/response exchanges and between sessions")
	f.Duration("ping-interval", 0, "Keep-alive ping period, 0 = off")
	f.IntP("messages", "n", 0, "Messages per session, 0 = unlimited")
	f.Duration("session-duration", 0, "Maximum session length, 0 = unlimited")
	f.String("mode", "structural", "Payload: structural, bulk, simple or sequence")
	f.String("correlation", "exact", "Response matching: exact, ordered or none")
	f.StringArray("threshold", nil, "Threshold as metric:expression, e.g. \"websocket_rtt:p(95)<500\"")
	f.Int("max-samples", 0, "Distribution sample cap, 0 = default")
	f.StringP("out", "o", "", "Output filename prefix for auto-reporting")
	f.String("format", "json", "Summary format: json or yaml")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.String("redis-addr", "", "Publish the final summary to this Redis server")
	f.String("history", "", "Record the run in the history database (--history=PATH for another file)")
	f.Lookup("history").NoOptDefVal = defaultHistory
	f.Bool("tui", false, "Show the interactive dashboard")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-file", "", "Also write logs to this file")

	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func runLoad(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	if err := mergeFlagMaps(cmd, v); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	settings, err := config.Load(v)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if settings.History == defaultHistory {
		if settings.History, err = storage.DefaultPath(); err != nil {
			return &ExitError{Code: 1, Err: err}
		}
	}

	log, err := logging.New(settings.Log)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	useTUI, _ := cmd.Flags().GetBool("tui")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.NewRunner(settings.Runner, updates, log)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	var store *storage.Store
	if settings.History != "" {
		if store, err = storage.NewStoreAt(settings.History); err != nil {
			log.Warn("history disabled", zap.Error(err))
		} else {
			defer store.Close()
		}
	}

	var publisher *report.RedisPublisher
	if settings.Redis.Addr != "" {
		if publisher, err = report.NewRedisPublisher(ctx, settings.Redis); err != nil {
			log.Warn("redis publishing disabled", zap.Error(err))
		} else {
			defer publisher.Close()
		}
	}

	finish := func(res *runner.Result) report.Summary {
		s := report.Build(res)
		if store != nil {
			if err := store.Save(storage.NewHistoryItem(res, s)); err != nil {
				log.Warn("save history", zap.Error(err))
			}
		}
		return s
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsSrv *http.Server
	if settings.MetricsAddr != "" {
		metricsSrv = newMetricsServer(settings.MetricsAddr, r.Metrics)
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", settings.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var (
		res     *runner.Result
		summary report.Summary
	)
	g.Go(func() error {
		if metricsSrv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsSrv.Shutdown(shutdownCtx)
			}()
		}

		if useTUI {
			var err error
			res, summary, err = runTUI(gctx, r, store, finish)
			return err
		}
		res = cli.Start(gctx, r, os.Stdout)
		summary = finish(res)
		cli.PrintSummary(os.Stdout, summary)
		return nil
	})

	if err := g.Wait(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if err := cli.AutoReport(os.Stdout, res, summary, settings.Runner.OutPrefix, settings.Format); err != nil {
		log.Error("auto report", zap.Error(err))
	}

	if publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publisher.Publish(pubCtx, summary); err != nil {
			log.Warn("publish summary", zap.Error(err))
		}
	}

	if !res.Passed {
		return &ExitError{Code: ExitThresholds, Err: errors.New("thresholds failed")}
	}
	return nil
}

// mergeFlagMaps folds --header and --threshold into the configured maps.
// Values set on viper must be map[string]any to merge with file keys.
func mergeFlagMaps(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()

	if headers, _ := f.GetStringSlice("header"); len(headers) > 0 {
		merged := make(map[string]any)
		for k, val := range v.GetStringMapString("headers") {
			merged[k] = val
		}
		for _, h := range headers {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) != 2 {
				return fmt.Errorf("%w: header %q is not \"Key: Value\"", config.ErrInvalid, h)
			}
			merged[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
		v.Set("headers", merged)
	}

	if thresholds, _ := f.GetStringArray("threshold"); len(thresholds) > 0 {
		set := v.GetStringMapStringSlice("thresholds")
		for _, t := range thresholds {
			metric, expr, ok := strings.Cut(t, ":")
			if !ok {
				return fmt.Errorf("%w: threshold %q is not metric:expression", config.ErrInvalid, t)
			}
			metric = strings.TrimSpace(metric)
			set[metric] = append(set[metric], strings.TrimSpace(expr))
		}
		merged := make(map[string]any, len(set))
		for k, exprs := range set {
			merged[k] = exprs
		}
		v.Set("thresholds", merged)
	}
	return nil
}

func newMetricsServer(addr string, reg *stats.Registry) *http.Server {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(stats.NewCollector(reg, "syncq"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func runTUI(ctx context.Context, r *runner.Runner, store *storage.Store, finish func(*runner.Result) report.Summary) (*runner.Result, report.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lister history.Lister
	if store != nil {
		lister = store
	}

	p := tea.NewProgram(tui.NewModel(r.Cfg, r.Updates, cancel, lister), tea.WithAltScreen())

	type outcome struct {
		res     *runner.Result
		summary report.Summary
	}
	done := make(chan outcome, 1)
	go func() {
		res := r.Run(runCtx)
		s := finish(res)
		p.Send(tui.DoneMsg{Summary: s})
		done <- outcome{res, s}
	}()

	_, err := p.Run()
	// quitting early still waits for every session to close
	cancel()
	o := <-done
	return o.res, o.summary, err
}
