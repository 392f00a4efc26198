package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haugland/terrainquery/api"
	"github.com/haugland/terrainquery/dataset"
	"github.com/haugland/terrainquery/query"
)

func run() error {
	configPath := flag.String("config", os.Getenv("TERRAINQUERY_CONFIG"), "path to the datasets config YAML")
	addr := flag.String("addr", ":5000", "address to listen on")
	corsOrigin := flag.String("access-control-allow-origin", "", "value of the Access-Control-Allow-Origin response header, empty to omit it")
	maxLocations := flag.Int("max-locations-per-request", api.DefaultMaxLocationsPerRequest, "maximum number of locations accepted in a single request")
	flag.Parse()

	if *configPath == "" {
		return errors.New("syntax: terrainquery-server -config datasets.yaml")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	registry, err := dataset.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading datasets: %w", err)
	}
	logger.Info("datasets loaded", "config", *configPath)

	engine := query.NewEngine(registry)
	handler := api.NewHandler(engine)
	handler.AccessControlAllowOrigin = *corsOrigin
	handler.MaxLocationsPerRequest = *maxLocations
	handler.Logger = logger

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("listening", "addr", *addr)
	return http.ListenAndServe(*addr, mux)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
