package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrecorder/recorder/internal/sample"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"record": { "outputDir": "/data/rec", "compress": true }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "/data/rec", viper.GetString("record.outputDir"))
	assert.Equal(t, true, viper.GetBool("record.compress"))
	assert.Equal(t, "record", viper.GetString("record.prefix"), "unset keys keep defaults")
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./simlogs", viper.GetString("logsDir"))
	assert.Equal(t, "./recordings", viper.GetString("record.outputDir"))
	assert.Equal(t, "png", viper.GetString("capture.format"))
	assert.Equal(t, 90.0, viper.GetFloat64("session.tickRate"))
	assert.Equal(t, "5s", viper.GetString("session.saveInterval"))
	assert.Equal(t, "5m", viper.GetString("session.rotationInterval"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "sim-recorder", viper.GetString("otel.serviceName"))
	assert.Equal(t, "5s", viper.GetString("otel.batchTimeout"))
	assert.Equal(t, "", viper.GetString("otel.endpoint"))
	assert.Equal(t, true, viper.GetBool("otel.insecure"))
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(t.TempDir()))
	assert.Equal(t, "info", viper.GetString("logLevel"))
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{"logLevel": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetRecordAndCaptureConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	rc := GetRecordConfig()
	assert.Equal(t, "./recordings", rc.OutputDir)
	assert.Equal(t, "record", rc.Prefix)
	assert.Equal(t, false, rc.Compress)
	assert.Equal(t, 4096, rc.InitialCapacity)

	cc := GetCaptureConfig()
	assert.Equal(t, true, cc.Enabled)
	assert.Equal(t, "./captures", cc.OutputDir)
	assert.Equal(t, "capture", cc.FolderPrefix)
	assert.Equal(t, 90, cc.JPEGQuality)
	assert.Equal(t, "speed", cc.PNGCompression)
	assert.Equal(t, true, cc.FlipVertical)
}

func TestGetCaptureConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"capture": { "format": "jpg", "jpegQuality": 60, "flipVertical": false }
	}`)))

	cc := GetCaptureConfig()
	assert.Equal(t, "jpg", cc.Format)
	assert.Equal(t, 60, cc.JPEGQuality)
	assert.Equal(t, false, cc.FlipVertical)
	assert.Equal(t, "./captures", cc.OutputDir, "siblings keep defaults")
}

func TestGetFilterConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want sample.Alpha
	}{
		{
			name: "defaults",
			body: `{}`,
			want: sample.DefaultAlpha(),
		},
		{
			name: "partial override",
			body: `{"filter": {"velocity": 0.8, "angularAcceleration": 0.1}}`,
			want: func() sample.Alpha {
				a := sample.DefaultAlpha()
				a.Velocity = 0.8
				a.AngularAcceleration = 0.1
				return a
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))
			assert.Equal(t, tt.want, GetFilterConfig())
		})
	}
}

func TestGetSessionConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"session": {
			"tickRate": 60,
			"saveInterval": "2s",
			"rotationInterval": "10m",
			"captureInterval": "500ms",
			"redJobs": 32
		}
	}`)))

	sc := GetSessionConfig()
	assert.Equal(t, 60.0, sc.TickRate)
	assert.Equal(t, 2*time.Second, sc.SaveInterval)
	assert.Equal(t, 10*time.Minute, sc.RotationInterval)
	assert.Equal(t, 500*time.Millisecond, sc.CaptureInterval)
	assert.Equal(t, 5*time.Minute, sc.FolderSwitchInterval)
	assert.Equal(t, time.Second, sc.StatusInterval)
	assert.Equal(t, "status.txt", sc.StatusFile)
	assert.Equal(t, 4, sc.YellowJobs)
	assert.Equal(t, 32, sc.RedJobs)
}

func TestGetLedgerAndPerfConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"ledger": { "dumpInterval": "3m" },
		"perf": { "enabled": false }
	}`)))

	lc := GetLedgerConfig()
	assert.Equal(t, true, lc.Enabled)
	assert.Equal(t, "./recordings", lc.Dir)
	assert.Equal(t, 3*time.Minute, lc.DumpInterval)

	pc := GetPerfConfig()
	assert.Equal(t, false, pc.Enabled)
	assert.Equal(t, 2*time.Second, pc.FlushInterval)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "sim-recorder", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, "", cfg.TraceEndpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"traceEndpoint": "http://localhost:4318",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, "http://localhost:4318", oc.TraceEndpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetGraylogConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"graylog": {"enabled": true}}`)))

	gc := GetGraylogConfig()
	assert.Equal(t, true, gc.Enabled)
	assert.Equal(t, "localhost:12201", gc.Address)
	assert.Equal(t, "sim-recorder", gc.Facility)
	assert.Equal(t, "warn", gc.Level)
}

func TestBindFlags_SetFlagOverridesFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", ".", "")
	fs.String("record.outputDir", "", "")
	fs.String("logLevel", "", "")
	require.NoError(t, fs.Parse([]string{"--record.outputDir=/flag/out"}))

	require.NoError(t, Load(writeConfig(t, `{"record": {"outputDir": "/file/out"}, "logLevel": "warn"}`)))
	require.NoError(t, BindFlags(fs))

	assert.Equal(t, "/flag/out", GetRecordConfig().OutputDir)
	assert.Equal(t, "warn", GetString("logLevel"), "unset flags do not shadow the file")
}
