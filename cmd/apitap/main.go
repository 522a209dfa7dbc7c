// Command apitap runs the configured HTTP-source-to-warehouse pipeline once
// and exits. It plays the same role as the teacher's cmd/etl binary: load a
// config file, optionally validate and exit, wire up a metrics backend, then
// hand off to the pipeline runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"apitap/internal/config"
	"apitap/internal/metrics"
	"apitap/internal/metrics/prompush"
	"apitap/internal/pipeline"

	// register all destination backends with the factory; config.Target.Kind
	// selects among them at runtime.
	_ "apitap/internal/destination/all"
)

func main() {
	var (
		cfgPath           string
		modulesDir        string
		envPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "yaml-config", "configs/pipeline.yaml", "pipeline config YAML path")
	flag.StringVar(&modulesDir, "modules", "", "SQL modules directory (overrides the config file's modules: field)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file to load before resolving config secrets (missing file is not an error)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		log.Printf("apitap: %s: %v", envPath, err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf(1, "load config: %v", err)
	}
	if modulesDir != "" {
		cfg.Modules = modulesDir
	}

	issues := cfg.Validate()
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %s", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %s", cfgPath)
		os.Exit(0)
	}

	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("apitap", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: url=%s backend=%s", gwURL, backendName)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}
	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled")
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	if *verbose {
		log.Printf("pipeline: config=%s modules=%s sources=%d targets=%d", cfgPath, cfg.Modules, len(cfg.Sources), len(cfg.Targets))
	}

	runner := pipeline.NewRunner(cfg)
	results, err := runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("interrupted: %v", err)
			os.Exit(130)
		}
		fatalf(2, "%v", err)
	}

	if *verbose {
		for _, r := range results {
			log.Printf("module=%s sink=%s rows=%d elapsed=%s", r.Module, r.Sink, r.RowsWritten, r.Elapsed.Truncate(time.Millisecond))
		}
		log.Printf("completed %d module(s) in %s", len(results), time.Since(start).Truncate(time.Millisecond))
	}
}

func fatalf(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(code)
}
