package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/simrecorder/recorder/internal/sample"
)

// FileName is the config file looked up in the config directory.
const FileName = "sim_recorder.cfg.json"

// RecordConfig holds the sample record writer settings
type RecordConfig struct {
	OutputDir       string `json:"outputDir" mapstructure:"outputDir"`
	Prefix          string `json:"prefix" mapstructure:"prefix"`
	Compress        bool   `json:"compress" mapstructure:"compress"`
	InitialCapacity int    `json:"initialCapacity" mapstructure:"initialCapacity"`
}

// CaptureConfig holds the frame capture settings
type CaptureConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	FolderPrefix   string `json:"folderPrefix" mapstructure:"folderPrefix"`
	Format         string `json:"format" mapstructure:"format"`
	JPEGQuality    int    `json:"jpegQuality" mapstructure:"jpegQuality"`
	PNGCompression string `json:"pngCompression" mapstructure:"pngCompression"`
	FlipVertical   bool   `json:"flipVertical" mapstructure:"flipVertical"`
	Width          int    `json:"width" mapstructure:"width"`
	Height         int    `json:"height" mapstructure:"height"`
}

// SessionConfig holds tick rate, interval timers and health thresholds
type SessionConfig struct {
	TickRate             float64
	SaveInterval         time.Duration
	RotationInterval     time.Duration
	CaptureInterval      time.Duration
	FolderSwitchInterval time.Duration
	StatusInterval       time.Duration
	StatusFile           string
	YellowJobs           int
	RedJobs              int
}

// LedgerConfig holds the SQLite job ledger settings
type LedgerConfig struct {
	Enabled      bool
	Dir          string
	DumpInterval time.Duration
}

// PerfConfig holds the line-protocol performance log settings
type PerfConfig struct {
	Enabled       bool
	Dir           string
	FlushInterval time.Duration
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	BatchTimeout  time.Duration
	Endpoint      string
	TraceEndpoint string
	Insecure      bool
}

// GraylogConfig holds the GELF sink settings
type GraylogConfig struct {
	Enabled  bool
	Address  string
	Facility string
	// Level is the sink's own minimum, independent of logLevel.
	Level string
}

// SetDefaults registers the default of every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./simlogs")

	viper.SetDefault("record.outputDir", "./recordings")
	viper.SetDefault("record.prefix", "record")
	viper.SetDefault("record.compress", false)
	viper.SetDefault("record.initialCapacity", 4096)

	viper.SetDefault("capture.enabled", true)
	viper.SetDefault("capture.outputDir", "./captures")
	viper.SetDefault("capture.folderPrefix", "capture")
	viper.SetDefault("capture.format", "png")
	viper.SetDefault("capture.jpegQuality", 90)
	viper.SetDefault("capture.pngCompression", "speed")
	viper.SetDefault("capture.flipVertical", true)
	viper.SetDefault("capture.width", 320)
	viper.SetDefault("capture.height", 180)

	alpha := sample.DefaultAlpha()
	viper.SetDefault("filter.position", alpha.Position)
	viper.SetDefault("filter.rotation", alpha.Rotation)
	viper.SetDefault("filter.velocity", alpha.Velocity)
	viper.SetDefault("filter.angularVelocity", alpha.AngularVelocity)
	viper.SetDefault("filter.acceleration", alpha.Acceleration)
	viper.SetDefault("filter.angularAcceleration", alpha.AngularAcceleration)

	viper.SetDefault("session.tickRate", 90.0)
	viper.SetDefault("session.saveInterval", "5s")
	viper.SetDefault("session.rotationInterval", "5m")
	viper.SetDefault("session.captureInterval", "1s")
	viper.SetDefault("session.folderSwitchInterval", "5m")
	viper.SetDefault("session.statusInterval", "1s")
	viper.SetDefault("session.statusFile", "status.txt")
	viper.SetDefault("session.yellowJobs", 4)
	viper.SetDefault("session.redJobs", 16)

	viper.SetDefault("ledger.enabled", true)
	viper.SetDefault("ledger.dir", "./recordings")
	viper.SetDefault("ledger.dumpInterval", "0s")

	viper.SetDefault("perf.enabled", true)
	viper.SetDefault("perf.dir", "./recordings")
	viper.SetDefault("perf.flushInterval", "2s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
	viper.SetDefault("graylog.facility", "sim-recorder")
	viper.SetDefault("graylog.level", "warn")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "sim-recorder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.traceEndpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// leaves the defaults in place.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// BindFlags lets explicitly set command line flags override file values.
// Flag names use the dotted config keys, e.g. --record.outputDir.
func BindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(f.Name, f); bindErr != nil {
			err = fmt.Errorf("error binding flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetRecordConfig returns the record writer settings.
func GetRecordConfig() RecordConfig {
	return RecordConfig{
		OutputDir:       viper.GetString("record.outputDir"),
		Prefix:          viper.GetString("record.prefix"),
		Compress:        viper.GetBool("record.compress"),
		InitialCapacity: viper.GetInt("record.initialCapacity"),
	}
}

// GetCaptureConfig returns the frame capture settings.
func GetCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Enabled:        viper.GetBool("capture.enabled"),
		OutputDir:      viper.GetString("capture.outputDir"),
		FolderPrefix:   viper.GetString("capture.folderPrefix"),
		Format:         viper.GetString("capture.format"),
		JPEGQuality:    viper.GetInt("capture.jpegQuality"),
		PNGCompression: viper.GetString("capture.pngCompression"),
		FlipVertical:   viper.GetBool("capture.flipVertical"),
		Width:          viper.GetInt("capture.width"),
		Height:         viper.GetInt("capture.height"),
	}
}

// GetFilterConfig returns the per-field smoothing factors.
func GetFilterConfig() sample.Alpha {
	return sample.Alpha{
		Position:            viper.GetFloat64("filter.position"),
		Rotation:            viper.GetFloat64("filter.rotation"),
		Velocity:            viper.GetFloat64("filter.velocity"),
		AngularVelocity:     viper.GetFloat64("filter.angularVelocity"),
		Acceleration:        viper.GetFloat64("filter.acceleration"),
		AngularAcceleration: viper.GetFloat64("filter.angularAcceleration"),
	}
}

// GetSessionConfig returns the tick and interval settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		TickRate:             viper.GetFloat64("session.tickRate"),
		SaveInterval:         viper.GetDuration("session.saveInterval"),
		RotationInterval:     viper.GetDuration("session.rotationInterval"),
		CaptureInterval:      viper.GetDuration("session.captureInterval"),
		FolderSwitchInterval: viper.GetDuration("session.folderSwitchInterval"),
		StatusInterval:       viper.GetDuration("session.statusInterval"),
		StatusFile:           viper.GetString("session.statusFile"),
		YellowJobs:           viper.GetInt("session.yellowJobs"),
		RedJobs:              viper.GetInt("session.redJobs"),
	}
}

// GetLedgerConfig returns the job ledger settings.
func GetLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Enabled:      viper.GetBool("ledger.enabled"),
		Dir:          viper.GetString("ledger.dir"),
		DumpInterval: viper.GetDuration("ledger.dumpInterval"),
	}
}

// GetPerfConfig returns the performance log settings.
func GetPerfConfig() PerfConfig {
	return PerfConfig{
		Enabled:       viper.GetBool("perf.enabled"),
		Dir:           viper.GetString("perf.dir"),
		FlushInterval: viper.GetDuration("perf.flushInterval"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:       viper.GetBool("otel.enabled"),
		ServiceName:   viper.GetString("otel.serviceName"),
		BatchTimeout:  viper.GetDuration("otel.batchTimeout"),
		Endpoint:      viper.GetString("otel.endpoint"),
		TraceEndpoint: viper.GetString("otel.traceEndpoint"),
		Insecure:      viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled:  viper.GetBool("graylog.enabled"),
		Address:  viper.GetString("graylog.address"),
		Facility: viper.GetString("graylog.facility"),
		Level:    viper.GetString("graylog.level"),
	}
}
