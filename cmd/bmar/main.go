// Command bmar is the Beehive Multichannel Acoustic Recorder process
// entrypoint: it loads configuration, opens the primary capture stream,
// starts the configured recording workers, and drives the rest of the
// session from the §6 single-character command surface until a signal
// or the quit command ends it.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/elhorte/bmar/internal/capture"
	"github.com/elhorte/bmar/internal/cli"
	"github.com/elhorte/bmar/internal/config"
	"github.com/elhorte/bmar/internal/event"
	"github.com/elhorte/bmar/internal/monitor"
	"github.com/elhorte/bmar/internal/render"
	"github.com/elhorte/bmar/internal/ring"
	"github.com/elhorte/bmar/internal/scheduler"
	"github.com/elhorte/bmar/internal/supervisor"
)

const defaultConfigPath = "bmar.yaml"

// peakPollInterval is how often the event peak-feed loop samples newly
// written ring frames, the same order of magnitude as the VU meter's poll
// (§4.7, §4.6).
const peakPollInterval = 50 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, TimeFormat: time.Kitchen})

	configPath, args := resolveConfigPath(os.Args[1:])
	if configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			configPath = defaultConfigPath
		}
	}
	cfg, err := config.Load(configPath, args)
	if err != nil {
		logger.Error("config: load failed", "err", err)
		return 1
	}

	capacityFrames := uint64(cfg.Capture.BufferSeconds) * uint64(cfg.Capture.InSampleRateHz)
	buf := ring.New(capacityFrames, cfg.Capture.Channels)

	engine := capture.New(logger, buf, capture.Config{
		SampleRateHz: cfg.Capture.InSampleRateHz,
		Channels:     uint8(cfg.Capture.Channels),
		BitDepth:     cfg.Capture.BitDepth,
		DeviceID:     cfg.Device.DeviceID,
		MakeName:     cfg.Device.MakeName,
		ModelNames:   cfg.Device.ModelName,
	})
	if err := engine.Open(context.Background()); err != nil {
		logger.Error("capture: open failed", "err", err)
		return 1
	}
	defer engine.Close()

	actual := engine.ActualConfig()
	logger.Info("capture: stream open", "rate_hz", actual.SampleRateHz, "channels", actual.Channels, "bit_depth", actual.BitDepth)

	sup := supervisor.New(logger, cfg.DataRoot, cfg.Identity.LocationID, cfg.Identity.HiveID)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var loopTargets, writeTargets []supervisor.ShutdownTarget

	if cfg.Modes.AudioMonitor && cfg.Monitor.Record {
		w := scheduler.NewWorker(monitorWorkerConfig(cfg, actual), buf, sup, logger)
		loopTargets = append(loopTargets, runWorkerLoop("monitor", workerCtx, w.Run))
		writeTargets = append(writeTargets, supervisor.ShutdownTarget{Name: "monitor-writes", Await: w.AwaitPendingWrites})
	}

	if cfg.Modes.Period && cfg.Period.Record {
		w := scheduler.NewWorker(periodWorkerConfig(cfg, actual), buf, sup, logger)
		loopTargets = append(loopTargets, runWorkerLoop("period", workerCtx, w.Run))
		writeTargets = append(writeTargets, supervisor.ShutdownTarget{Name: "period-writes", Await: w.AwaitPendingWrites})
	}

	if cfg.Modes.Event {
		channels := eventChannelIndices(cfg)
		preFrames := uint64(cfg.Event.SaveBeforeSec) * uint64(actual.SampleRateHz)
		postFrames := uint64(cfg.Event.SaveAfterSec) * uint64(actual.SampleRateHz)

		detector := event.New(event.Config{ThresholdAbs: cfg.Event.ThresholdAbs, PostFrames: postFrames})
		ew := scheduler.NewEventWorker(eventWorkerConfig(cfg, actual), preFrames, postFrames, buf, sup, logger)

		triggers := make(chan uint64)
		loopTargets = append(loopTargets, runWorkerLoop("event", workerCtx, func(ctx context.Context) {
			ew.Run(ctx, triggers)
		}))
		loopTargets = append(loopTargets, runWorkerLoop("event-adapter", workerCtx, func(ctx context.Context) {
			adaptEventRequests(ctx, detector, triggers)
		}))
		loopTargets = append(loopTargets, runWorkerLoop("event-peak-feed", workerCtx, func(ctx context.Context) {
			feedEventPeaks(ctx, buf, detector, int(actual.Channels), channels)
		}))
		writeTargets = append(writeTargets, supervisor.ShutdownTarget{Name: "event-writes", Await: ew.AwaitPendingWrites})
	}

	dispatcher := sup.Renderers()

	var (
		uiMu            sync.Mutex
		selectedChan    int
		vuOn            bool
		monitorOn       bool
		perfOn          bool
		currentIntercom *monitor.Intercom
		quitOnce        sync.Once
		quitRequested   = make(chan struct{})
	)
	requestQuit := func() { quitOnce.Do(func() { close(quitRequested) }) }

	router := cli.NewRouter(logger, func() bool {
		uiMu.Lock()
		defer uiMu.Unlock()
		return vuOn || monitorOn
	}, func(ch int) {
		uiMu.Lock()
		defer uiMu.Unlock()
		selectedChan = ch
		if currentIntercom != nil {
			currentIntercom.SetChannel(ch)
		}
		if vuOn {
			launchVU(dispatcher, logger, cfg, actual, ch)
		}
	})

	router.Handle(cli.CmdHelp, func() { printHelp() })
	router.Handle(cli.CmdHelpAlt, func() { printHelp() })
	router.Handle(cli.CmdQuit, requestQuit)
	router.Handle(cli.CmdDeviceListShort, func() { listDevices(logger, false) })
	router.Handle(cli.CmdDeviceListDetailed, func() { listDevices(logger, true) })
	router.Handle(cli.CmdOverflowWatch, func() { watchOverflow(engine) })
	router.Handle(cli.CmdListMicPositions, func() { listMicPositions(cfg) })
	router.Handle(cli.CmdListThreads, func() { listThreads(cfg) })
	router.Handle(cli.CmdToggleListener, func() {
		if engine.Active() {
			engine.Pause()
			fmt.Println("listener paused")
		} else {
			engine.Resume()
			fmt.Println("listener resumed")
		}
	})
	router.Handle(cli.CmdToggleVU, func() {
		uiMu.Lock()
		defer uiMu.Unlock()
		if vuOn {
			dispatcher.Cancel(render.KindVU)
			vuOn = false
			return
		}
		launchVU(dispatcher, logger, cfg, actual, selectedChan)
		vuOn = true
	})
	router.Handle(cli.CmdToggleMonitor, func() {
		uiMu.Lock()
		defer uiMu.Unlock()
		if monitorOn {
			dispatcher.Cancel(render.KindMonitor)
			monitorOn = false
			return
		}
		ch := selectedChan
		dispatcher.Launch(render.KindMonitor, 0, func(ctx context.Context) {
			runIntercom(ctx, logger, cfg, ch, &uiMu, &currentIntercom)
		}, func() {
			uiMu.Lock()
			ic := currentIntercom
			uiMu.Unlock()
			if ic != nil {
				ic.Close()
			}
		})
		monitorOn = true
		fmt.Println("monitor intercom started")
	})
	router.Handle(cli.CmdOscilloscope, func() {
		dispatcher.Launch(render.KindScope, render.ScopeBudget(cfg.Renderer.TraceDurationSec), func(ctx context.Context) {
			runRenderJob(logger, "scope", func() (string, error) {
				return render.RunScope(ctx, logger, render.ScopeParams{
					DeviceCfg:   ephemeralDeviceConfig(cfg, actual),
					DurationSec: cfg.Renderer.TraceDurationSec,
					GainDB:      cfg.Renderer.OscopeGainDB,
					PlotsDir:    mustPlotsDir(sup, logger),
				})
			})
		}, nil)
	})
	router.Handle(cli.CmdFFT, func() {
		uiMu.Lock()
		ch := selectedChan
		uiMu.Unlock()
		dispatcher.Launch(render.KindFFT, render.FFTBudget(cfg.Renderer.FFTDurationSec), func(ctx context.Context) {
			runRenderJob(logger, "fft", func() (string, error) {
				return render.RunFFT(ctx, logger, render.FFTParams{
					DeviceCfg:   ephemeralDeviceConfig(cfg, actual),
					Channel:     ch,
					DurationSec: cfg.Renderer.FFTDurationSec,
					GainDB:      cfg.Renderer.FFTGainDB,
					BucketHz:    cfg.Renderer.FFTBucketHz,
					PlotsDir:    mustPlotsDir(sup, logger),
				})
			})
		}, nil)
	})
	router.Handle(cli.CmdSpectrogram, func() {
		uiMu.Lock()
		ch := selectedChan
		uiMu.Unlock()
		dispatcher.Launch(render.KindSpec, render.SpectrogramBudget(), func(ctx context.Context) {
			runRenderJob(logger, "spectrogram", func() (string, error) {
				rawDir, err := sup.ResolvePrimaryRawDir()
				if err != nil {
					return "", err
				}
				plotsDir, err := sup.ResolvePlotsDir()
				if err != nil {
					return "", err
				}
				return render.RunSpectrogram(render.SpectrogramParams{
					PrimaryRawDir: rawDir,
					Channel:       ch,
					Axis:          render.AxisLinear,
					DBMin:         cfg.Renderer.SpectrogramDBMin,
					DBMax:         cfg.Renderer.SpectrogramDBMax,
					PlotsDir:      plotsDir,
				})
			})
		}, nil)
	})
	router.Handle(cli.CmdPerfOneShot, func() {
		uiMu.Lock()
		perfOn = false
		uiMu.Unlock()
		dispatcher.Launch(render.KindPerf, 0, func(ctx context.Context) {
			render.RunPerf(ctx, logger, true, 0, printPerfSnapshot)
		}, nil)
	})
	router.Handle(cli.CmdPerfContinuous, func() {
		uiMu.Lock()
		defer uiMu.Unlock()
		if perfOn {
			dispatcher.Cancel(render.KindPerf)
			perfOn = false
			return
		}
		dispatcher.Launch(render.KindPerf, 0, func(ctx context.Context) {
			render.RunPerf(ctx, logger, false, time.Second, printPerfSnapshot)
		}, nil)
		perfOn = true
	})

	source := cli.NewStdinCommandSource()
	defer source.Close()
	cliCtx, cancelCLI := context.WithCancel(context.Background())
	defer cancelCLI()
	go router.Run(cliCtx, source)

	logger.Info("bmar: ready", "location", cfg.Identity.LocationID, "hive", cfg.Identity.HiveID)
	printHelp()

	select {
	case <-sup.WaitForShutdownSignal():
	case <-quitRequested:
	}

	logger.Info("bmar: shutting down")
	sup.Shutdown(cancelWorkers, loopTargets, engine.Close, writeTargets)

	logger.Info("bmar: shutdown complete")
	return 0
}

// resolveConfigPath pulls a -config/--config flag out of args before the
// rest are handed to config.Load, whose own flag set does not know about
// it (§1: the YAML file is BMAR's one named external collaborator).
func resolveConfigPath(args []string) (path string, rest []string) {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				rest = append(append(rest, args[:i]...), args[i+2:]...)
				return args[i+1], rest
			}
		case strings.HasPrefix(a, "-config="), strings.HasPrefix(a, "--config="):
			rest = append(append(rest, args[:i]...), args[i+1:]...)
			return a[strings.Index(a, "=")+1:], rest
		}
	}
	return "", args
}

// monitorWorkerConfig builds the continuous/MP3-class worker's
// configuration (§4.5, §6 audio_monitor_*).
func monitorWorkerConfig(cfg config.Config, actual capture.Config) scheduler.WorkerConfig {
	return scheduler.WorkerConfig{
		ThreadTag:    "monitor",
		DurationSec:  cfg.Monitor.DurationSec,
		IntervalSec:  cfg.Monitor.IntervalSec,
		SourceRateHz: actual.SampleRateHz,
		TargetRateHz: cfg.Monitor.SampleRateHz,
		BitDepth:     cfg.Monitor.BitDepth,
		Channels:     int(actual.Channels),
		Format:       cfg.Monitor.Format,
		Quality:      cfg.Monitor.Quality,
		HeadroomDB:   cfg.Capture.HeadroomDB,
		Start:        cfg.Monitor.Start,
		End:          cfg.Monitor.End,
		TODGated:     cfg.Monitor.Start.Set || cfg.Monitor.End.Set,
		LocationID:   cfg.Identity.LocationID,
		HiveID:       cfg.Identity.HiveID,
	}
}

// periodWorkerConfig builds the primary-format periodic worker's
// configuration (§4.5, §6 period_*).
func periodWorkerConfig(cfg config.Config, actual capture.Config) scheduler.WorkerConfig {
	return scheduler.WorkerConfig{
		ThreadTag:    "period",
		DurationSec:  cfg.Period.DurationSec,
		IntervalSec:  cfg.Period.IntervalSec,
		SourceRateHz: actual.SampleRateHz,
		TargetRateHz: cfg.Capture.SaveSampleRateHz,
		BitDepth:     cfg.Capture.BitDepth,
		Channels:     int(actual.Channels),
		Format:       cfg.Capture.FileFormat,
		HeadroomDB:   cfg.Capture.HeadroomDB,
		Start:        cfg.Period.Start,
		End:          cfg.Period.End,
		TODGated:     cfg.Period.Start.Set || cfg.Period.End.Set,
		LocationID:   cfg.Identity.LocationID,
		HiveID:       cfg.Identity.HiveID,
	}
}

// eventWorkerConfig builds the event-triggered worker's configuration
// (§4.5, §4.6, §6 event_*).
func eventWorkerConfig(cfg config.Config, actual capture.Config) scheduler.WorkerConfig {
	return scheduler.WorkerConfig{
		ThreadTag:    "event",
		SourceRateHz: actual.SampleRateHz,
		TargetRateHz: actual.SampleRateHz,
		BitDepth:     cfg.Capture.BitDepth,
		Channels:     int(actual.Channels),
		Format:       cfg.Capture.FileFormat,
		HeadroomDB:   cfg.Capture.HeadroomDB,
		LocationID:   cfg.Identity.LocationID,
		HiveID:       cfg.Identity.HiveID,
	}
}

// eventChannelIndices resolves event.monitor_ch (a 1-based channel index
// or "all") into the 0-based channel indices the peak feed checks (§4.6
// "max across channels if 'all'").
func eventChannelIndices(cfg config.Config) []int {
	if strings.EqualFold(cfg.Event.MonitorChannel, "all") {
		_, indices := cfg.Identity.ActiveChannels()
		if len(indices) == 0 {
			return []int{0}
		}
		return indices
	}
	n, err := strconv.Atoi(cfg.Event.MonitorChannel)
	if err != nil || n < 1 {
		return []int{0}
	}
	return []int{n - 1}
}

// runWorkerLoop starts run in its own goroutine bound to ctx and returns a
// ShutdownTarget whose Await blocks until that goroutine returns (§4.9
// "wait up to 5 s for each with a soft deadline").
func runWorkerLoop(name string, ctx context.Context, run func(context.Context)) supervisor.ShutdownTarget {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return supervisor.ShutdownTarget{Name: name, Await: func() { <-done }}
}

// adaptEventRequests translates C6's RecordRequest channel into the plain
// frame-count channel the event scheduler worker consumes.
func adaptEventRequests(ctx context.Context, detector *event.Detector, out chan<- uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-detector.Requests():
			if !ok {
				return
			}
			select {
			case out <- req.TriggerFrame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// feedEventPeaks polls the ring for newly written frames and feeds their
// peak-absolute projection on the configured channels into the detector
// (§4.6: "strided projection of the most recent sample per configured
// monitor channel").
func feedEventPeaks(ctx context.Context, buf *ring.Buffer, detector *event.Detector, channels int, channelIndices []int) {
	ticker := time.NewTicker(peakPollInterval)
	defer ticker.Stop()

	last := buf.WriteIndex()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := buf.WriteIndex()
			if now <= last {
				continue
			}
			a, c, err := buf.SnapshotRange(last, now)
			last = now
			if err != nil {
				continue
			}
			block := ring.Concat(a, c)
			peak := event.PeakAbs(block, channels, channelIndices)
			detector.FeedBlock(peak, now)
		}
	}
}

// ephemeralDeviceConfig derives the capture.Config an ephemeral renderer
// capture (Scope, FFT) should open, matching the primary stream's
// negotiated rate/channels/bit depth so a renderer sees the same signal
// path, on its own independent device handle (§4.7).
func ephemeralDeviceConfig(cfg config.Config, actual capture.Config) capture.Config {
	c := actual
	c.DeviceID = cfg.Device.DeviceID
	c.MakeName = cfg.Device.MakeName
	c.ModelNames = cfg.Device.ModelName
	return c
}

func mustPlotsDir(sup *supervisor.Supervisor, logger *log.Logger) string {
	dir, err := sup.ResolvePlotsDir()
	if err != nil {
		logger.Warn("render: plots directory unavailable", "err", err)
		return "."
	}
	return dir
}

func launchVU(dispatcher *render.Dispatcher, logger *log.Logger, cfg config.Config, actual capture.Config, channel int) {
	dispatcher.Launch(render.KindVU, 0, func(ctx context.Context) {
		err := render.RunVU(ctx, logger, render.VUParams{
			DeviceCfg: ephemeralDeviceConfig(cfg, actual),
			Channel:   channel,
			Print:     func(s string) { fmt.Print(s) },
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("render: vu failed", "err", err)
		}
	}, nil)
}

// runIntercom opens an intercom for the dispatcher's Monitor kind slot and
// blocks until ctx is cancelled (toggle off, or shutdown's CancelAll), then
// tears it down. currentIntercom lets the channel-select callback reach the
// live instance without threading it through the dispatcher.
func runIntercom(ctx context.Context, logger *log.Logger, cfg config.Config, channel int, mu *sync.Mutex, currentIntercom **monitor.Intercom) {
	ic := monitor.New(logger, monitor.Config{
		CaptureRateHz: cfg.Device.IntercomSampleRateHz,
		OutputRateHz:  cfg.Device.SoundOutSRDefault,
		Channel:       channel,
	})
	if err := ic.Open(); err != nil {
		logger.Warn("monitor: intercom open failed", "err", err)
		return
	}
	mu.Lock()
	*currentIntercom = ic
	mu.Unlock()

	<-ctx.Done()

	ic.Close()
	mu.Lock()
	*currentIntercom = nil
	mu.Unlock()
}

func runRenderJob(logger *log.Logger, kind string, fn func() (string, error)) {
	path, err := fn()
	if err != nil {
		logger.Warn("render: job failed", "kind", kind, "err", err)
		return
	}
	logger.Info("render: job complete", "kind", kind, "path", path)
}

func printPerfSnapshot(s render.PerfSnapshot) {
	fmt.Printf("[perf] mem %.1f%% of %d MB, cpu", s.MemUsedPct, s.MemTotalMB)
	for i, pct := range s.PerCorePct {
		fmt.Printf(" core%d=%.0f%%", i, pct)
	}
	fmt.Println()
}

func watchOverflow(engine *capture.Engine) {
	before := engine.OverflowCount()
	fmt.Println("watching for audio overflow for 10s...")
	go func() {
		time.Sleep(10 * time.Second)
		after := engine.OverflowCount()
		fmt.Printf("overflow count over last 10s: %d\n", after-before)
	}()
}

func listMicPositions(cfg config.Config) {
	for i, pos := range cfg.Identity.MicLocation {
		fmt.Printf("%d: %s (active=%v)\n", i+1, pos, cfg.Identity.Mic[i])
	}
}

func listThreads(cfg config.Config) {
	fmt.Printf("monitor: enabled=%v record=%v\n", cfg.Modes.AudioMonitor, cfg.Monitor.Record)
	fmt.Printf("period:  enabled=%v record=%v\n", cfg.Modes.Period, cfg.Period.Record)
	fmt.Printf("event:   enabled=%v\n", cfg.Modes.Event)
}

func listDevices(logger *log.Logger, detailed bool) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Warn("capture: device enumeration failed", "err", err)
		return
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		logger.Warn("capture: device enumeration failed", "err", err)
		return
	}
	for i, d := range devices {
		if detailed {
			fmt.Printf("%2d: %s (id=%x)\n", i, d.Name(), d.ID)
		} else {
			fmt.Printf("%2d: %s\n", i, d.Name())
		}
	}
}

func printHelp() {
	fmt.Println("commands: h/? help, q quit, d/D device list, a overflow watch,")
	fmt.Println("  c<digit> change channel, 1-9 direct channel (while v/i running),")
	fmt.Println("  v VU, i monitor intercom, o scope, f FFT, s spectrogram,")
	fmt.Println("  m mic positions, t threads, p/P perf, ^ toggle listener")
}
