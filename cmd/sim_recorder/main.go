package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/simrecorder/recorder/internal/capture"
	"github.com/simrecorder/recorder/internal/config"
	"github.com/simrecorder/recorder/internal/ledger"
	"github.com/simrecorder/recorder/internal/lifecycle"
	"github.com/simrecorder/recorder/internal/logging"
	intOtel "github.com/simrecorder/recorder/internal/otel"
	"github.com/simrecorder/recorder/internal/perflog"
	"github.com/simrecorder/recorder/internal/record"
	"github.com/simrecorder/recorder/internal/recorder"
	"github.com/simrecorder/recorder/internal/sample"
	"github.com/simrecorder/recorder/internal/util"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "sim_recorder"
)

// control commands read from stdin
const (
	cmdPause       = "pause"
	cmdResume      = "resume"
	cmdFocusLost   = "focus-lost"
	cmdFocusGained = "focus-gained"
	cmdStatus      = "status"
	cmdExit        = "exit"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing "+config.FileName)
	fs.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	fs.String("logLevel", "info", "debug, info, warn or error")
	fs.String("logsDir", "./simlogs", "directory for log files")
	fs.String("record.outputDir", "./recordings", "directory for record files")
	fs.Bool("record.compress", false, "gzip record files")
	fs.Bool("capture.enabled", true, "write frame captures")
	fs.String("capture.format", "png", "png or jpg")
	fs.Float64("session.tickRate", 90, "ticks per second")
	return fs
}

func run(args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	configDir, _ := fs.GetString("config")
	duration, _ := fs.GetDuration("duration")

	if err := config.Load(configDir); err != nil {
		return err
	}
	if err := config.BindFlags(fs); err != nil {
		return err
	}

	sessionStart := time.Now()
	sessionID := recorder.NewSessionID()
	stamp := util.RotationStamp(sessionStart)
	logLevel := config.GetString("logLevel")

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("error creating logs dir: %w", err)
	}
	logFilePath := logging.LogFilePath(logsDir, AppName, sessionStart)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()

	jobLogPath := logging.LogFilePath(logsDir, AppName+".jobs", sessionStart)
	jobLogFile, err := os.OpenFile(jobLogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening job log file: %w", err)
	}
	defer jobLogFile.Close()

	// Initialize OTel provider if enabled
	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      logFile,
			Endpoint:       otelCfg.Endpoint,
			TraceEndpoint:  otelCfg.TraceEndpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize OTel provider: %v\n", err)
			otelProvider = nil
		}
	}

	var extra []logging.Sink
	var gelfCloser io.Closer
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		h, w, err := logging.NewGELFHandler(graylogCfg.Address, graylogCfg.Facility)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Graylog: %v\n", err)
		} else {
			extra = append(extra, logging.SinkAt(h, graylogCfg.Level))
			gelfCloser = w
		}
	}

	slogManager := logging.NewSlogManager()
	logOpts := logging.Options{
		File:    logFile,
		Level:   logLevel,
		Context: logging.SessionContext(sessionID),
		Extra:   extra,
	}
	if otelProvider != nil {
		logOpts.Provider = otelProvider.LoggerProvider()
	}
	slogManager.Setup(logOpts)
	logger := slogManager.Logger()
	logger.Info("Starting up...", "version", CurrentVersion, "build", BuildDate, "log", logFilePath)

	jobZerolog := logging.NewZerolog(jobLogFile, logLevel).With().Str("session", sessionID).Logger()
	jobLogger := logging.NewJobLogger(jobZerolog)

	var hooks []func(lifecycle.Result)
	var sessionOpts []recorder.Option
	var statusSinks []func(recorder.Status)

	ledgerCfg := config.GetLedgerConfig()
	if ledgerCfg.Enabled {
		led, err := openLedger(ledgerCfg, sessionID, stamp, sessionStart, jobZerolog)
		if err != nil {
			logger.Error("Failed to open job ledger", "error", err)
		} else {
			hooks = append(hooks, led.Record)
			statusSinks = append(statusSinks, func(st recorder.Status) {
				if err := led.RecordStatus(ledger.StatusSnapshot{
					Time:            st.Time,
					Tick:            st.Tick,
					RecordJobs:      st.RecordJobs,
					CaptureJobs:     st.CaptureJobs,
					BufferedSamples: st.BufferedSamples,
					Health:          st.Health.String(),
				}); err != nil {
					logger.Debug("Status not recorded", "error", err)
				}
			})
			sessionOpts = append(sessionOpts, recorder.WithCloser("ledger", func() error {
				return led.Close(time.Now())
			}))
		}
	}

	perfCfg := config.GetPerfConfig()
	if perfCfg.Enabled {
		perf, err := openPerfLog(perfCfg, sessionID, stamp, jobZerolog)
		if err != nil {
			logger.Error("Failed to open perf log", "error", err)
		} else {
			hooks = append(hooks, perf.RecordJob)
			statusSinks = append(statusSinks, func(st recorder.Status) {
				perf.StatusPoint(st.Time, st.Health.String(), st.BufferedSamples, st.RecordJobs, st.CaptureJobs)
			})
			sessionOpts = append(sessionOpts,
				recorder.WithTickObserver(func(r recorder.TickReport) {
					perf.TickPoint(r.Time, r.Tick, r.Processing, r.ActualInterval, r.RecordJobs, r.CaptureJobs)
				}),
				recorder.WithCloser("perflog", perf.Close),
			)
		}
	}

	recordCfg := config.GetRecordConfig()
	recordEngine, err := record.New(record.Config{
		OutputDir:       recordCfg.OutputDir,
		Prefix:          recordCfg.Prefix,
		Compress:        recordCfg.Compress,
		SessionID:       sessionID,
		RecorderVersion: CurrentVersion,
		InitialCapacity: recordCfg.InitialCapacity,
	}, logger, record.WithJobLogger(jobLogger), record.WithJobHooks(hooks...))
	if err != nil {
		return fmt.Errorf("error creating record engine: %w", err)
	}

	var captureEngine *capture.Engine
	captureCfg := config.GetCaptureConfig()
	if captureCfg.Enabled {
		captureEngine, err = capture.New(capture.Config{
			OutputDir:      captureCfg.OutputDir,
			FolderPrefix:   captureCfg.FolderPrefix,
			Format:         captureCfg.Format,
			JPEGQuality:    captureCfg.JPEGQuality,
			PNGCompression: captureCfg.PNGCompression,
			FlipVertical:   captureCfg.FlipVertical,
		}, newSyntheticRenderer(captureCfg.Width, captureCfg.Height), logger,
			capture.WithJobLogger(jobLogger), capture.WithJobHooks(hooks...))
		if err != nil {
			return fmt.Errorf("error creating capture engine: %w", err)
		}
	}

	sessionCfg := config.GetSessionConfig()
	if sessionCfg.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %v", sessionCfg.TickRate)
	}

	var session *recorder.Session
	monitor := recorder.NewMonitor(recorder.MonitorDependencies{
		Source:   recorder.StatusFunc(func() recorder.Status { return session.Status() }),
		Path:     filepath.Join(recordCfg.OutputDir, sessionCfg.StatusFile),
		Interval: sessionCfg.StatusInterval,
		Logger:   logger,
		Sinks:    statusSinks,
	})
	// closers run in reverse, so the monitor writes its last status first
	sessionOpts = append(sessionOpts, recorder.WithCloser("monitor", func() error {
		monitor.Stop()
		return nil
	}))

	session, err = recorder.New(recorder.Config{
		SessionID:            sessionID,
		Alpha:                config.GetFilterConfig(),
		SaveInterval:         sessionCfg.SaveInterval,
		RotationInterval:     sessionCfg.RotationInterval,
		CaptureInterval:      sessionCfg.CaptureInterval,
		FolderSwitchInterval: sessionCfg.FolderSwitchInterval,
		YellowJobs:           sessionCfg.YellowJobs,
		RedJobs:              sessionCfg.RedJobs,
	}, recordEngine, captureEngine, logger, sessionOpts...)
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}

	if err := os.MkdirAll(recordCfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("error creating output dir: %w", err)
	}
	if err := monitor.Start(); err != nil {
		logger.Error("Failed to start status monitor", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Info("Recording", "session", sessionID, "record_file", recordEngine.ActivePath(), "tick_rate", sessionCfg.TickRate)
	tickLoop(ctx, session, newSyntheticSource(sessionCfg.TickRate), sessionCfg.TickRate, readCommands(os.Stdin), logger)

	exitErr := session.RequestExit()
	if exitErr != nil {
		logger.Error("Session closed with errors", "error", exitErr)
	}
	logger.Info("Shut down", "status", session.Status().String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := slogManager.Flush(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shut down OTel: %v\n", err)
		}
	}
	if gelfCloser != nil {
		gelfCloser.Close()
	}
	return exitErr
}

func openLedger(cfg config.LedgerConfig, sessionID, stamp string, started time.Time, log zerolog.Logger) (*ledger.Ledger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating ledger dir: %w", err)
	}
	led, err := ledger.Open(ledger.Config{
		Path:         filepath.Join(cfg.Dir, fmt.Sprintf("recorder_%s.db", stamp)),
		DumpInterval: cfg.DumpInterval,
		SessionID:    sessionID,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := led.BeginSession(started, CurrentVersion, viper.AllSettings()); err != nil {
		led.Close(time.Now())
		return nil, err
	}
	return led, nil
}

func openPerfLog(cfg config.PerfConfig, sessionID, stamp string, log zerolog.Logger) (*perflog.Log, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating perf log dir: %w", err)
	}
	return perflog.Open(perflog.Config{
		Path:          filepath.Join(cfg.Dir, fmt.Sprintf("perf_%s.lp.gz", stamp)),
		FlushInterval: cfg.FlushInterval,
		SessionID:     sessionID,
	}, log)
}

// tickLoop drives the session at a fixed rate until ctx ends or an exit
// command arrives. Controls run here so they never race a tick.
func tickLoop(ctx context.Context, session *recorder.Session, source *syntheticSource, tickRate float64, commands <-chan string, logger *slog.Logger) {
	ideal := time.Duration(float64(time.Second) / tickRate)
	ticker := time.NewTicker(ideal)
	defer ticker.Stop()

	start := time.Now()
	last := start
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if !handleCommand(session, cmd, logger) {
				return
			}
		case now := <-ticker.C:
			source.Fill(session.Current(), now.Sub(start).Seconds())
			session.Tick(sample.TickMeta{
				IdealInterval:  ideal.Seconds(),
				ActualInterval: now.Sub(last).Seconds(),
				WallTime:       now,
			})
			last = now
		}
	}
}

// handleCommand applies one control command and reports whether the loop
// should keep running.
func handleCommand(session *recorder.Session, cmd string, logger *slog.Logger) bool {
	var err error
	switch cmd {
	case cmdPause:
		err = session.OnPauseRequested()
	case cmdResume:
		err = session.OnResumeRequested()
	case cmdFocusLost:
		err = session.OnFocusLost()
	case cmdFocusGained:
		err = session.OnFocusGained()
	case cmdStatus:
		fmt.Println(session.Status().String())
	case cmdExit:
		return false
	case "":
	default:
		logger.Warn("Unknown command", "command", cmd)
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err)
	}
	return true
}

// readCommands forwards trimmed stdin lines until EOF.
func readCommands(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		}
	}()
	return out
}
