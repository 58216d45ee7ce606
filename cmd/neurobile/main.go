package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/neurobile/internal/acquisition"
	"github.com/banshee-data/neurobile/internal/actuator"
	"github.com/banshee-data/neurobile/internal/api"
	"github.com/banshee-data/neurobile/internal/classifier"
	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/config"
	"github.com/banshee-data/neurobile/internal/cyton"
	"github.com/banshee-data/neurobile/internal/db"
	"github.com/banshee-data/neurobile/internal/feedback"
	"github.com/banshee-data/neurobile/internal/health"
	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/plotting"
	"github.com/banshee-data/neurobile/internal/serialmux"
	"github.com/banshee-data/neurobile/internal/session"
	"github.com/banshee-data/neurobile/internal/telemetry"
	"github.com/banshee-data/neurobile/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	modeFlag    = flag.String("mode", string(session.ModeClassify), "Session mode: classify, alpha or beep")
	devMode     = flag.Bool("dev", false, "Use the synthetic board and a simulated car")
	listen      = flag.String("listen", ":8080", "HTTP listen address (empty disables)")
	grpcListen  = flag.String("grpc-listen", ":8081", "gRPC health listen address (empty disables)")
	port        = flag.String("port", "", "Serial port override (ignored in dev mode)")
	debug       = flag.Bool("debug", false, "Log per-tick diagnostics")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("neurobile %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	monitoring.SetDebug(*debug)

	mode, err := session.ParseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.SerialPort = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, cfg); err != nil {
		log.Fatal(err)
	}
	log.Print("session ended")
}

func run(ctx context.Context, mode session.Mode, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	board, serial, err := openBoard(cfg)
	if err != nil {
		return err
	}
	if serial != nil {
		defer serial.Close()
	}
	desc := board.Descriptor()
	buf := acquisition.NewBufferFor(desc)
	log.Printf("board %s at %d Hz, %d channels", desc.Name, desc.SamplingRate, len(desc.ChannelNames))

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	sessionID, err := store.StartSession(string(mode), cfgJSON, version.Version, time.Now())
	if err != nil {
		return err
	}
	log.Printf("session %s started in %s mode", sessionID, mode)

	var predictor classifier.Predictor
	if mode == session.ModeClassify {
		adapter, err := classifier.Load(cfg.GetCheckpointPath())
		if err != nil {
			return err
		}
		predictor = adapter
	}

	speaker, beeper := feedback.Detect()
	publisher := openTelemetry(cfg, sessionID)
	defer publisher.Close()

	slot := &command.Slot{}
	proc, err := session.New(mode, cfg, desc, buf, session.Deps{
		Predictor: predictor,
		Slot:      slot,
		Speaker:   speaker,
		Beeper:    beeper,
		Publisher: publisher,
		Store:     store,
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	var transport actuator.Transport
	if *devMode {
		transport = &actuator.SimTransport{Present: true}
	} else if transport, err = actuator.NewBLETransport(cfg.GetCarCharacteristic()); err != nil {
		return err
	}
	car := actuator.NewLoop(transport, slot, cfg.GetCarName())
	car.Interval = cfg.GetActuatorInterval()
	car.DiscoveryTimeout = cfg.GetDiscoveryTimeout()
	car.OnActuation = func(a actuator.Actuation) {
		rec := db.Actuation{At: a.At, Command: a.Command.String(), Connected: a.Connected}
		if a.Err != nil {
			rec.Err = a.Err.Error()
		}
		if err := store.RecordActuation(sessionID, rec); err != nil {
			monitoring.Logf("[actuator] failed to record actuation: %v", err)
		}
		connected := a.Connected
		if err := publisher.Publish(ctx, telemetry.Event{
			SessionID: sessionID,
			Kind:      telemetry.KindActuation,
			At:        a.At,
			Command:   rec.Command,
			Connected: &connected,
			Error:     rec.Err,
		}); err != nil {
			monitoring.Debugf("[telemetry] actuation dropped: %v", err)
		}
	}

	server := api.NewServer(api.Options{
		SessionID:    sessionID,
		Mode:         mode,
		ChannelNames: desc.ChannelNames,
		Processor:    proc,
		Machine:      proc.Machine,
		Slot:         slot,
		Actuator:     func() string { return car.State().String() },
		DB:           store,
	})
	proc.Observe(server.Publish)

	var plots *plotting.Snapshotter
	names := channelNames(desc, mode)
	if dir := cfg.GetPlotDir(); dir != "" {
		snap := &plotting.Snapshotter{Dir: dir, Interval: cfg.GetPlotInterval()}
		proc.Observe(func(s session.Snapshot) {
			snap.Update(plotting.Window{Title: string(mode), Rate: s.Rate, Names: names, Channels: s.Window})
		})
		plots = snap
	}

	mux := http.NewServeMux()
	store.AttachAdminRoutes(mux)
	if serial != nil {
		serial.AttachAdminRoutes(mux)
	}
	apiMux := server.ServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/debug/ratio-chart", apiMux)
	handler := api.LoggingMiddleware(mux)

	grpcLis, httpLis, err := openListeners(*grpcListen, *listen)
	if err != nil {
		return err
	}

	// Everything fallible is done; start the loops.
	if serial != nil {
		g.Go(func() error { return quiet(serial.Monitor(ctx), "serial monitor") })
	}
	g.Go(func() error { return quiet(board.Stream(ctx, buf), "board stream") })
	g.Go(func() error { return proc.Run(ctx) })
	g.Go(func() error { return car.Run(ctx) })
	if plots != nil {
		g.Go(func() error { return plots.Run(ctx) })
	}

	if grpcLis != nil {
		hs := health.New(func() bool { return car.State() == actuator.Connected })
		g.Go(func() error { return hs.Serve(ctx, grpcLis) })
	}
	if httpLis != nil {
		g.Go(func() error { return serveHTTP(ctx, httpLis, handler) })
	}

	return g.Wait()
}

// quiet drops the cancellation error every worker returns on shutdown.
func quiet(err error, what string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// openBoard returns the synthetic board in dev mode, otherwise a Cyton on the
// configured serial port together with the mux whose Monitor feeds it.
func openBoard(cfg *config.Config) (acquisition.Streamer, serialmux.SerialMuxInterface, error) {
	if *devMode {
		return acquisition.NewSyntheticBoard(time.Now().UnixNano()), nil, nil
	}
	m, err := serialmux.NewRealSerialMux(
		cfg.GetSerialPort(),
		serialmux.PortOptions{BaudRate: cfg.GetBaudRate()},
		serialmux.PacketSplit(cyton.Format),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.GetSerialPort(), err)
	}
	return cyton.NewBoard(m), m, nil
}

func channelNames(desc acquisition.Descriptor, mode session.Mode) []string {
	rows := session.ClassifyChannels
	if mode != session.ModeClassify {
		rows = session.RatioChannels
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = desc.ChannelNames[r]
	}
	return names
}

func openTelemetry(cfg *config.Config, sessionID string) telemetry.Publisher {
	var sinks telemetry.Multi
	if broker := cfg.GetMQTTBroker(); broker != "" {
		p, err := telemetry.NewMQTTPublisher(broker, cfg.GetMQTTTopic(), "neurobile-"+sessionID[:8])
		if err != nil {
			log.Printf("MQTT telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, p)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.GetKafkaTopic())
		if err != nil {
			log.Printf("Kafka telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, p)
		}
	}
	if len(sinks) == 0 {
		return telemetry.Nop{}
	}
	return telemetry.NewAsync(sinks, telemetry.DefaultQueueSize)
}

// openListeners binds the gRPC and HTTP addresses; an empty address is
// skipped. On error nothing is left open.
func openListeners(grpcAddr, httpAddr string) (grpcLis, httpLis net.Listener, err error) {
	if grpcAddr != "" {
		if grpcLis, err = net.Listen("tcp", grpcAddr); err != nil {
			return nil, nil, fmt.Errorf("failed to listen for gRPC: %w", err)
		}
	}
	if httpAddr != "" {
		if httpLis, err = net.Listen("tcp", httpAddr); err != nil {
			if grpcLis != nil {
				grpcLis.Close()
			}
			return nil, nil, fmt.Errorf("failed to listen for HTTP: %w", err)
		}
	}
	return grpcLis, httpLis, nil
}

func serveHTTP(ctx context.Context, lis net.Listener, h http.Handler) error {
	server := &http.Server{Handler: h}
	errc := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	return nil
}
