package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tankwatch/internal/analysis"
	"github.com/banshee-data/tankwatch/internal/api"
	"github.com/banshee-data/tankwatch/internal/config"
	"github.com/banshee-data/tankwatch/internal/db"
	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/detect"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/health"
	"github.com/banshee-data/tankwatch/internal/report"
	"github.com/banshee-data/tankwatch/internal/serialmux"
	"github.com/banshee-data/tankwatch/internal/stream"
	"github.com/banshee-data/tankwatch/internal/timeutil"
	"github.com/banshee-data/tankwatch/internal/version"
	"github.com/banshee-data/tankwatch/internal/vision"
)

var (
	configPath  = flag.String("config", "tankwatch.yaml", "Path to a .yaml or .json config file (missing file means defaults)")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (empty disables)")
	devMode     = flag.Bool("dev", false, "Run without the ONNX model; every frame yields no detections")
	noStream    = flag.Bool("no-stream", false, "Do not open the live camera source")
	streamURL   = flag.String("stream-url", "", "Override the live source URL or device index")
	dbPath      = flag.String("db-path", "", "Override the sqlite database path")
	outputDir   = flag.String("output-dir", "", "Override the artifact output directory")
	autoFeed    = flag.String("auto-feed", "", "Override the auto feed policy (off, detected, ready)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// overrides carries the command-line values that replace config fields.
type overrides struct {
	StreamURL string
	DBPath    string
	OutputDir string
	AutoFeed  string
}

func (o overrides) apply(cfg *config.Config) error {
	if o.StreamURL != "" {
		cfg.StreamURL = config.String(o.StreamURL)
	}
	if o.DBPath != "" {
		cfg.DBPath = config.String(o.DBPath)
	}
	if o.OutputDir != "" {
		cfg.OutputDir = config.String(o.OutputDir)
	}
	if o.AutoFeed != "" {
		if _, err := feeder.ParseAutoPolicy(o.AutoFeed); err != nil {
			return err
		}
		cfg.AutoFeed = config.String(o.AutoFeed)
	}
	return nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := config.LoadOrEmpty(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := (overrides{
		StreamURL: *streamURL,
		DBPath:    *dbPath,
		OutputDir: *outputDir,
		AutoFeed:  *autoFeed,
	}).apply(cfg); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			log.Fatalf("unknown command %q", flag.Arg(0))
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.Current())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("tankwatch: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func newDetector(cfg *config.Config) (detect.Detector, func(), error) {
	if *devMode {
		log.Printf("dev mode: using static detections")
		return detect.Static{}, func() {}, nil
	}
	if err := detect.InitRuntime(cfg.GetOnnxLibrary()); err != nil {
		return nil, nil, err
	}
	d, err := detect.NewONNXDetector(detect.ONNXConfig{
		ModelPath: cfg.GetModelPath(),
		InputDim:  cfg.GetModelInputSize(),
	})
	if err != nil {
		detect.DestroyRuntime()
		return nil, nil, err
	}
	return d, func() {
		d.Close()
		detect.DestroyRuntime()
	}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := timeutil.RealClock{}

	artifacts := report.NewArtifactStore(cfg.GetOutputDir(), nil)
	if err := artifacts.EnsureDirs(); err != nil {
		return err
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	last := &decision.LastSummary{}
	if s, err := database.LatestRun(ctx); err == nil {
		last.Set(s)
		log.Printf("restored last summary from run %s", s.RunID)
	} else if !errors.Is(err, db.ErrRunNotFound) {
		log.Printf("failed to load last run: %v", err)
	}

	detector, closeDetector, err := newDetector(cfg)
	if err != nil {
		return fmt.Errorf("failed to load detector: %w", err)
	}
	defer closeDetector()

	var wg sync.WaitGroup

	// feeder transports
	var publishers feeder.MultiPublisher
	if cfg.MQTTEnabled() {
		mq := feeder.NewMQTTPublisher(cfg.GetMQTT())
		if err := mq.Connect(ctx); err != nil {
			// the client keeps retrying in the background
			log.Printf("mqtt connect: %v", err)
		}
		defer mq.Disconnect()
		publishers = append(publishers, mq)
	}

	var feederSerial serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	if cfg.SerialEnabled() {
		sm, err := serialmux.NewRealSerialMux(cfg.Serial.Port, cfg.Serial.Options)
		if err != nil {
			return fmt.Errorf("failed to open feeder serial port: %w", err)
		}
		feederSerial = sm
		publishers = append(publishers, feeder.NewSerialPublisher(sm))
	}
	defer feederSerial.Close()
	if err := feederSerial.Initialize(); err != nil {
		log.Printf("failed to initialise feeder device: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feederSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor feeder serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		serialmux.Watch(ctx, feederSerial, &serialmux.DeviceState{})
	}()

	var pub feeder.Publisher = publishers
	if len(publishers) == 0 {
		log.Printf("no feeder transport configured: feed commands are logged only")
		pub = feeder.LogPublisher{}
	}
	dispatcher := feeder.NewDispatcher(cfg.FeederConfig(), pub, database, clock)

	runner, err := analysis.NewRunner(analysis.Config{
		Thresholds: cfg.Thresholds(),
		Tracker:    cfg.TrackerConfig(),
		Policy:     cfg.Policy(),
		PxPerCm:    cfg.GetPxPerCm(),
		AutoFeed:   cfg.GetAutoFeed(),
	}, analysis.Deps{
		Detector:   detector,
		Images:     vision.ImageIO{},
		Videos:     vision.VideoOpener{},
		Sinks:      vision.VideoSinkFactory{FourCC: vision.FourCCAnalysis},
		Annotator:  vision.Annotator{},
		Artifacts:  artifacts,
		Last:       last,
		Store:      database,
		Dispatcher: dispatcher,
		Clock:      clock,
	})
	if err != nil {
		return err
	}

	session := stream.NewSession(stream.SessionConfig{
		SnapshotDir:  artifacts.Dir(report.KindSnapshots),
		RecordingDir: artifacts.Dir(report.KindRecordings),
		RecordFPS:    cfg.GetRecordFPS(),
		Sinks:        vision.VideoSinkFactory{FourCC: vision.FourCCRecording},
		Images:       vision.ImageIO{},
		Clock:        clock,
	})
	defer session.Close()
	broadcast := stream.NewBroadcast()

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.NewServer(*grpcListen)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	if !*noStream {
		pcfg := stream.DefaultProducerConfig()
		pcfg.Reconnect = cfg.ReconnectConfig()
		producer := stream.NewProducer(pcfg, session,
			vision.CaptureOpener{URL: cfg.GetStreamURL()},
			vision.JPEGEncoder{}, broadcast, vision.Placeholder)
		if hs != nil {
			producer.OnSourceChange = hs.SetStreamServing
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := producer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("stream producer stopped: %v", err)
			}
			log.Print("stream routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(api.Config{
			Analyzer:   runner,
			Last:       last,
			Dispatcher: dispatcher,
			Stream:     session,
			Live:       broadcast,
			Runs:       database,
			Artifacts:  artifacts,
			Shutdown:   ctx,
		})
		router := srv.Router()

		debugMux := http.NewServeMux()
		if err := database.AttachAdminRoutes(debugMux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		feederSerial.AttachAdminRoutes(debugMux)
		router.PathPrefix("/debug/").Handler(debugMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(router),
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// live MJPEG viewers never finish on their own
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	return nil
}
