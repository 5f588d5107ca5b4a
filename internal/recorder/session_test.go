package recorder

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrecorder/recorder/internal/capture"
	"github.com/simrecorder/recorder/internal/record"
	"github.com/simrecorder/recorder/internal/sample"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRenderer struct{}

func (fakeRenderer) RequestReadback(cb func(capture.Frame, error)) {
	go cb(capture.Frame{Width: 1, Height: 1, Pixels: []byte{10, 20, 30, 255}}, nil)
}

type fixture struct {
	session *Session
	clock   *fakeClock
	record  *record.Engine
	capture *capture.Engine
	dir     string
}

func newFixture(t *testing.T, cfg Config, withCapture bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{clock: newFakeClock(), dir: t.TempDir()}

	rec, err := record.New(record.Config{
		OutputDir: filepath.Join(f.dir, "records"),
		Prefix:    "rec",
		SessionID: "s-test",
	}, nil, record.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.record = rec

	if withCapture {
		f.capture, err = capture.New(capture.Config{
			OutputDir:    filepath.Join(f.dir, "captures"),
			FolderPrefix: "cap",
			Format:       "png",
		}, fakeRenderer{}, nil, capture.WithClock(f.clock.Now))
		require.NoError(t, err)
	}

	if cfg.Alpha == (sample.Alpha{}) {
		cfg.Alpha = sample.DefaultAlpha()
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.session, err = New(cfg, f.record, f.capture, nil, opts...)
	require.NoError(t, err)
	return f
}

// step writes the head position, advances the clock by one second and ticks.
func (f *fixture) step(pos sample.Vec3) TickReport {
	f.session.Current().SpatialPose("head").Position = pos
	f.clock.Advance(time.Second)
	return f.session.Tick(sample.TickMeta{IdealInterval: 1, ActualInterval: 1})
}

func readRecords(t *testing.T, dir string) []record.Document {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var docs []record.Document
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		var doc record.Document
		require.NoError(t, json.Unmarshal(raw, &doc))
		docs = append(docs, doc)
	}
	return docs
}

func ticksOf(doc record.Document) []uint64 {
	var ticks []uint64
	for _, s := range doc.Samples {
		ticks = append(ticks, s.Tick)
	}
	return ticks
}

func TestNew_RequiresRecordEngine(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestNew_GeneratesSessionID(t *testing.T) {
	f := newFixture(t, Config{}, false)
	assert.Len(t, f.session.ID(), 36)
}

func TestTick_EndToEndVelocities(t *testing.T) {
	f := newFixture(t, Config{}, false)

	v := func(x, y, z float64) sample.Vec3 { return sample.Vec3{X: x, Y: y, Z: z} }
	positions := []sample.Vec3{v(0, 0, 0), v(1, 0, 0), v(2, 0, 0), v(2, 1, 0), v(2, 1, 1)}
	want := []sample.Vec3{v(0, 0, 0), v(1, 0, 0), v(1, 0, 0), v(0, 1, 0), v(0, 0, 1)}

	for _, p := range positions {
		report := f.step(p)
		assert.True(t, report.Recorded)
	}
	require.NoError(t, f.session.RequestExit())

	docs := readRecords(t, filepath.Join(f.dir, "records"))
	require.Len(t, docs, 1)
	require.Len(t, docs[0].Samples, len(want))
	assert.Equal(t, "s-test", docs[0].SessionID)

	for i, s := range docs[0].Samples {
		require.Len(t, s.Spatial, 1)
		head := s.Spatial[0]
		assert.Equal(t, uint64(i+1), s.Tick)
		assert.InDelta(t, want[i].X, head.VelocityRaw.X, 1e-9, "tick %d", i+1)
		assert.InDelta(t, want[i].Y, head.VelocityRaw.Y, 1e-9, "tick %d", i+1)
		assert.InDelta(t, want[i].Z, head.VelocityRaw.Z, 1e-9, "tick %d", i+1)

		m := head.Magnitudes
		assert.InDelta(t, head.VelocityRaw.Magnitude(), m.VelocityRaw, 1e-9)
		assert.InDelta(t, head.PositionRaw.Magnitude(), m.PositionRaw, 1e-9)
		assert.GreaterOrEqual(t, m.AccelerationRaw, 0.0)
	}
}

func TestTick_SeedsNextSampleFromFinalized(t *testing.T) {
	f := newFixture(t, Config{}, false)

	f.session.Current().Scene = "highway"
	f.session.Current().Buttons = map[string]bool{"trigger": true}
	f.step(sample.Vec3{X: 3})

	cur := f.session.Current()
	assert.Equal(t, "highway", cur.Scene)
	assert.Equal(t, uint64(1), cur.Tick)
	assert.True(t, cur.Buttons["trigger"])

	cur.Buttons["trigger"] = false
	require.NoError(t, f.session.RequestExit())
	docs := readRecords(t, filepath.Join(f.dir, "records"))
	assert.True(t, docs[0].Samples[0].Buttons["trigger"], "recorded sample is isolated from the next one")
}

func TestTick_OverflowingInputStillWritesRecord(t *testing.T) {
	f := newFixture(t, Config{}, false)

	for _, x := range []float64{0, 1e308, -1e308, 0} {
		f.step(sample.Vec3{X: x})
	}
	for i := 0; i < 10; i++ {
		f.step(sample.Vec3{X: float64(i)})
	}
	require.NoError(t, f.session.RequestExit())

	docs := readRecords(t, filepath.Join(f.dir, "records"))
	require.Len(t, docs, 1)
	require.Len(t, docs[0].Samples, 14)
	last := docs[0].Samples[13].Spatial[0]
	assert.False(t, math.IsNaN(last.Velocity.X))
	assert.InDelta(t, 1, last.VelocityRaw.X, 1e-9)
}

func TestTick_SanitizesNonFiniteInput(t *testing.T) {
	f := newFixture(t, Config{}, false)

	f.session.Current().Sickness = math.Inf(1)
	report := f.step(sample.Vec3{X: math.NaN(), Y: 2})
	require.True(t, report.Recorded)

	head := f.session.Current().Spatial[0]
	assert.Equal(t, 0.0, head.PositionRaw.X)
	assert.Equal(t, 2.0, head.PositionRaw.Y)
	assert.Equal(t, 0.0, f.session.Current().Sickness)
}

func TestTick_RotationCompleteness(t *testing.T) {
	f := newFixture(t, Config{RotationInterval: 4 * time.Second, SaveInterval: 2 * time.Second}, false)

	for i := 0; i < 10; i++ {
		f.step(sample.Vec3{X: float64(i)})
	}
	require.NoError(t, f.session.RequestExit())

	docs := readRecords(t, filepath.Join(f.dir, "records"))
	require.Len(t, docs, 3)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ticksOf(docs[0]))
	assert.Equal(t, []uint64{5, 6, 7, 8}, ticksOf(docs[1]))
	assert.Equal(t, []uint64{9, 10}, ticksOf(docs[2]))
}

func TestTick_ObserverReceivesReports(t *testing.T) {
	var reports []TickReport
	f := newFixture(t, Config{}, false, WithTickObserver(func(r TickReport) {
		reports = append(reports, r)
	}))

	f.step(sample.Vec3{})
	f.step(sample.Vec3{})

	require.Len(t, reports, 2)
	assert.Equal(t, uint64(2), reports[1].Tick)
	assert.Equal(t, 1.0, reports[1].ActualInterval)
	assert.True(t, reports[1].Recorded)
}

func TestPause_DrainsAndStopsRecording(t *testing.T) {
	f := newFixture(t, Config{}, false)

	f.step(sample.Vec3{X: 1})
	f.step(sample.Vec3{X: 2})
	require.NoError(t, f.session.OnPauseRequested())

	assert.Equal(t, 0, f.record.ActiveJobs())
	docs := readRecords(t, filepath.Join(f.dir, "records"))
	require.Len(t, docs, 1)
	assert.Equal(t, []uint64{1, 2}, ticksOf(docs[0]), "pause writes the partial buffer")

	report := f.step(sample.Vec3{X: 3})
	assert.False(t, report.Recorded)
	assert.Equal(t, uint64(2), report.Tick)
	assert.False(t, f.session.Status().Recording)

	require.NoError(t, f.session.OnResumeRequested())
	report = f.step(sample.Vec3{X: 100})
	require.True(t, report.Recorded)
	assert.Equal(t, uint64(3), report.Tick)

	head := f.session.Current().Spatial[0]
	assert.Equal(t, sample.Vec3{}, head.VelocityRaw, "the pause gap does not produce a velocity spike")
}

func TestFocusAndPause_BothMustClear(t *testing.T) {
	f := newFixture(t, Config{}, false)

	require.NoError(t, f.session.OnFocusLost())
	require.NoError(t, f.session.OnPauseRequested())

	require.NoError(t, f.session.OnFocusGained())
	assert.False(t, f.step(sample.Vec3{}).Recorded, "still paused")

	require.NoError(t, f.session.OnResumeRequested())
	assert.True(t, f.step(sample.Vec3{}).Recorded)
}

func TestRequestExit_ClosesSinksInReverse(t *testing.T) {
	var order []string
	f := newFixture(t, Config{}, false,
		WithCloser("ledger", func() error { order = append(order, "ledger"); return nil }),
		WithCloser("perf", func() error { order = append(order, "perf"); return errors.New("disk full") }),
	)

	f.step(sample.Vec3{})
	err := f.session.RequestExit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing perf")
	assert.Equal(t, []string{"perf", "ledger"}, order)

	require.NoError(t, f.session.RequestExit(), "second exit is a no-op")
	assert.Len(t, order, 2)

	assert.True(t, f.session.Exited())
	assert.ErrorIs(t, f.session.OnPauseRequested(), ErrExited)
	assert.ErrorIs(t, f.session.OnFocusGained(), ErrExited)
	assert.False(t, f.step(sample.Vec3{}).Recorded)
}

func TestTick_DrivesCapture(t *testing.T) {
	f := newFixture(t, Config{CaptureInterval: 2 * time.Second, FolderSwitchInterval: time.Hour}, true)

	f.session.Current().Sickness = 0.75
	for i := 0; i < 4; i++ {
		f.step(sample.Vec3{})
	}
	assert.Equal(t, 0.75, f.capture.StressLevel())

	require.Eventually(t, func() bool { return f.capture.Requested() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.capture.ActiveFolder())
		return err == nil && len(entries) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.session.RequestExit())

	entries, err := os.ReadDir(f.capture.ActiveFolder())
	require.NoError(t, err)
	for _, e := range entries {
		assert.Contains(t, e.Name(), "_sickness_0.75.png")
	}
}

func TestTick_FolderSwitch(t *testing.T) {
	f := newFixture(t, Config{FolderSwitchInterval: 2 * time.Second}, true)
	first := f.capture.ActiveFolder()

	f.step(sample.Vec3{})
	assert.Equal(t, first, f.capture.ActiveFolder())
	f.step(sample.Vec3{})
	assert.NotEqual(t, first, f.capture.ActiveFolder())
}

func TestHealthFor(t *testing.T) {
	tests := []struct {
		name        string
		jobs        int
		yellow, red int
		want        Health
	}{
		{"idle", 0, 4, 16, HealthGreen},
		{"below yellow", 3, 4, 16, HealthGreen},
		{"at yellow", 4, 4, 16, HealthYellow},
		{"at red", 16, 4, 16, HealthRed},
		{"thresholds off", 100, 0, 0, HealthGreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthFor(tt.jobs, tt.yellow, tt.red))
		})
	}
}

func TestHealth_String(t *testing.T) {
	assert.Equal(t, "green", HealthGreen.String())
	assert.Equal(t, "yellow", HealthYellow.String())
	assert.Equal(t, "red", HealthRed.String())
	assert.Equal(t, "unknown", Health(9).String())
}

func TestStatus_String(t *testing.T) {
	st := Status{RecordJobs: 3, CaptureJobs: 1}
	assert.Equal(t, "Recording tasks: 3 | Capture tasks: 1", st.String())
}

func TestStatus_Live(t *testing.T) {
	f := newFixture(t, Config{SessionID: "fixed", YellowJobs: 1, RedJobs: 10}, true)
	f.step(sample.Vec3{})
	f.step(sample.Vec3{})

	st := f.session.Status()
	assert.Equal(t, "fixed", st.SessionID)
	assert.Equal(t, uint64(2), st.Tick)
	assert.Equal(t, 2, st.BufferedSamples)
	assert.Equal(t, f.record.ActivePath(), st.RecordFile)
	assert.Equal(t, f.capture.ActiveFolder(), st.CaptureFolder)
	assert.True(t, st.Recording)
	assert.Equal(t, HealthGreen, st.Health)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"health":"green"`)
}
