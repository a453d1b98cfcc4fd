package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-eddy/internal/device"
	"github.com/23skdu/longbow-eddy/internal/engine"
	"github.com/23skdu/longbow-eddy/internal/field"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

var (
	nx            = flag.Int("nx", 128, "Grid size along x")
	ny            = flag.Int("ny", 128, "Grid size along y")
	nz            = flag.Int("nz", 1, "Grid size along z (1 for 2D)")
	model         = flag.String("model", "D2Q9", "Velocity set (D2Q9, D3Q7, D3Q15, D3Q19, D3Q27)")
	nu            = flag.Float64("nu", 0.05, "Kinematic viscosity in lattice units")
	flagPrecision = flag.String("precision", "FP32", "Precision mode (FP32, FP16S, FP16C)")
	steps         = flag.Int("steps", 1000, "Number of time steps")
	scenarioName  = flag.String("scenario", "cavity", "Initial condition preset ("+scenarioNames+")")
	u0            = flag.Float64("u0", 0.1, "Characteristic lattice velocity of the scenario")
	fx            = flag.Float64("fx", 0, "Body force x component")
	fy            = flag.Float64("fy", 0, "Body force y component")
	fz            = flag.Float64("fz", 0, "Body force z component")
	interval      = flag.Int("output-interval", 0, "Log diagnostics every N steps (0 disables)")
	csvPath       = flag.String("csv", "", "Write final fields as CSV to this path ('-' for stdout)")
	arrowPath     = flag.String("arrow", "", "Write final fields as Arrow IPC to this path ('-' for stdout)")
	ckptPath      = flag.String("checkpoint", "", "Write a CBOR checkpoint of the final state to this path")
	resumePath    = flag.String("resume", "", "Resume from a CBOR checkpoint instead of a scenario")
	useGPU        = flag.Bool("gpu", false, "Use the OpenCL backend (requires an 'opencl' build)")
	flagMaxMem    = flag.String("max-mem", "", "Memory limit for the CPU backend (e.g. 4GB, 512MB)")
	metricsAddr   = flag.String("metrics", "", "Address to serve Prometheus metrics on (e.g. :9091)")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func parseBytes(s string) int64 {
	// 4GB, 100MB, 1024
	if s == "" || s == "0" {
		return 0
	}
	var val int64
	var unit string
	fmt.Sscanf(s, "%d%s", &val, &unit)

	switch unit {
	case "GB", "G":
		return val * 1024 * 1024 * 1024
	case "MB", "M":
		return val * 1024 * 1024
	case "KB", "K":
		return val * 1024
	default:
		return val
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", *metricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	var backend device.Backend
	if *useGPU {
		b, err := device.NewOpenCLBackend()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open OpenCL backend")
		}
		backend = b
	} else if limit := parseBytes(*flagMaxMem); limit > 0 {
		b := device.NewCPUBackend()
		b.SetMemLimit(limit)
		backend = b
		log.Info().Str("max_mem", *flagMaxMem).Int64("bytes", limit).Msg("CPU memory admission control")
	}

	mode, err := precision.Parse(*flagPrecision)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid precision mode")
	}

	var force *[3]float32
	if *fx != 0 || *fy != 0 || *fz != 0 {
		force = &[3]float32{float32(*fx), float32(*fy), float32(*fz)}
	} else if *resumePath == "" {
		force = scenarioForce(*scenarioName)
	}

	var e *engine.Engine
	if *resumePath != "" {
		f, err := os.Open(*resumePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open checkpoint")
		}
		cp, err := engine.ReadCheckpoint(f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read checkpoint")
		}
		e, err = engine.Restore(cp, float32(*nu), mode, backend)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to restore engine")
		}
		log.Info().Str("path", *resumePath).Int("step", cp.Step).Msg("Resumed from checkpoint")
	} else {
		e, err = engine.New(engine.Config{
			Nx: *nx, Ny: *ny, Nz: *nz,
			Model:          *model,
			Viscosity:      float32(*nu),
			Mode:           mode,
			Force:          force,
			OutputInterval: *interval,
		}, backend)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		if err := applyScenario(e, *scenarioName, float32(*u0)); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply scenario")
		}
	}
	defer e.Close()

	if *interval > 0 {
		if err := e.SetOutputFunc(func(step int, rho, u []float32) {
			log.Info().
				Int("step", step).
				Float64("mass", field.TotalMass(rho)).
				Float64("max_speed", field.MaxSpeed(u)).
				Float64("kinetic_energy", field.KineticEnergy(rho, u)).
				Msg("Diagnostics")
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to register output hook")
		}
	}

	log.Info().
		Str("scenario", *scenarioName).
		Str("model", *model).
		Int("steps", *steps).
		Float64("device_mb", float64(e.EstimatedBytes())/(1024.0*1024.0)).
		Msg("Starting simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Run(ctx, *steps); err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stderr, "cells=%d steps=%d throughput=%.1f MLUps mass=%.4f max_speed=%.5f\n",
		e.Grid().N(), e.StepCount(), e.MLUps(),
		field.TotalMass(e.Density()), field.MaxSpeed(e.Velocity()))

	writeOutputs(e)
}

func writeOutputs(e *engine.Engine) {
	openOut := func(path string) (*os.File, func(), error) {
		if path == "-" {
			return os.Stdout, func() {}, nil
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	if *csvPath != "" {
		f, done, err := openOut(*csvPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CSV output")
		}
		if err := writeCSV(f, e.Grid(), e.Density(), e.Velocity()); err != nil {
			log.Fatal().Err(err).Msg("Failed to write CSV")
		}
		done()
		log.Info().Str("path", *csvPath).Msg("Wrote CSV output")
	}

	if *arrowPath != "" {
		f, done, err := openOut(*arrowPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Arrow output")
		}
		if err := writeArrowStream(f, e.Grid(), e.Density(), e.Velocity()); err != nil {
			log.Fatal().Err(err).Msg("Failed to write Arrow stream")
		}
		done()
		log.Info().Str("path", *arrowPath).Msg("Wrote Arrow output")
	}

	if *ckptPath != "" {
		f, err := os.Create(*ckptPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create checkpoint file")
		}
		if err := e.Snapshot().Encode(f); err != nil {
			f.Close()
			log.Fatal().Err(err).Msg("Failed to write checkpoint")
		}
		f.Close()
		log.Info().Str("path", *ckptPath).Msg("Wrote checkpoint")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("eddy"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
