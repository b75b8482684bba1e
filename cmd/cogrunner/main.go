// cogrunner serves a single machine-learning model behind an HTTP API.
//
// Grounded on cmd/coordinated/main.go (flag parsing, optional YAML
// config file) and Pepperjack's cmd/server/main.go (signal-driven
// graceful shutdown, which cmd/coordinated/http.go never implements —
// ServeHTTP there just blocks on ListenAndServe forever). The model
// served is internal/examplemodel.Model; swapping in a different
// model.Model implementation is the one part of wiring this binary
// together that can't be done from a flag, the same way the upstream
// project's cog_rust::start! macro is itself invoked with a concrete
// type at compile time.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/diffeo/cogrunner/internal/examplemodel"
	"github.com/diffeo/cogrunner/internal/httpapi"
	"github.com/diffeo/cogrunner/internal/manager"
	"github.com/diffeo/cogrunner/internal/metrics"
	"github.com/diffeo/cogrunner/internal/openapi"
	"github.com/diffeo/cogrunner/internal/shutdown"
	"github.com/diffeo/cogrunner/internal/validator"
	"github.com/diffeo/cogrunner/internal/webhook"
	"github.com/diffeo/cogrunner/internal/worker"
)

func main() {
	dumpSchema := flag.Bool("dump-schema-and-exit", false, "generate and print the OpenAPI document, then exit")
	awaitExplicitShutdown := flag.Bool("await-explicit-shutdown", false, "suppress SIGTERM-triggered shutdown; require SIGINT or POST /shutdown")
	uploadURLFlag := flag.String("upload-url", "", "default endpoint file outputs are PUT to")
	configPath := flag.String("config", "", "optional YAML file of default flag values")
	flag.Parse()

	logger := newLogger()

	if *configPath != "" {
		if err := applyConfigYaml(*configPath); err != nil {
			logger.WithError(err).Fatal("failed to load config file")
		}
	}

	uploadURL := *uploadURLFlag
	if uploadURL == "" {
		uploadURL = os.Getenv("UPLOAD_URL")
	}

	model := &examplemodel.Model{}

	requestSchema, err := model.RequestSchema()
	if err != nil {
		logger.WithError(err).Fatal("failed to obtain request schema from model")
	}

	v, err := validator.New(requestSchema)
	if err != nil {
		logger.WithError(err).Fatal("failed to compile request schema")
	}

	w := &worker.Worker{
		Model:            model,
		Logger:           logger,
		DefaultUploadURL: uploadURL,
	}

	dispatcher := webhook.New(os.Getenv("WEBHOOK_AUTH_TOKEN"), logger)
	mgr := manager.New(w, v, dispatcher)

	doc, err := (&openapi.Builder{Title: "cogrunner"}).Build(requestSchema, nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to assemble openapi document")
	}

	if *dumpSchema {
		encoded, err := json.Marshal(doc)
		if err != nil {
			logger.WithError(err).Fatal("failed to marshal openapi document")
		}
		fmt.Println(string(encoded))
		os.Exit(0)
	}

	coordinator := shutdown.New(*awaitExplicitShutdown, logger)

	api := &httpapi.API{
		Manager:    mgr,
		Health:     w,
		Shutdown:   coordinator,
		Logger:     logger,
		OpenAPIDoc: doc,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	server := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: httpapi.NewRouter(api),
	}

	setupCtx, cancelSetup := context.WithCancel(context.Background())
	defer cancelSetup()
	go func() {
		if err := w.Setup(setupCtx); err != nil {
			logger.WithError(err).Error("model setup failed")
			coordinator.Start()
			return
		}
		metrics.ObserveHealth(w.Health())
	}()

	err = coordinator.Run(context.Background(),
		func(ctx context.Context) error {
			logger.WithField("addr", server.Addr).Info("listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	)
	if err != nil {
		logger.WithError(err).Error("cogrunner exited with error")
		os.Exit(1)
	}
}

// newLogger builds a logrus.Logger using a JSON formatter in production
// and a human-readable text formatter when stderr is a terminal,
// mirroring the teacher's preference for logrus over the standard log
// package (see cmd/coordinated/metrics.go's use of *logrus.Logger).
func newLogger() *logrus.Logger {
	logger := logrus.New()
	if fi, err := os.Stderr.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// applyConfigYaml loads a YAML file of default flag values and applies
// any that weren't already set on the command line, the same
// file-then-flags precedence cmd/coordinated/main.go's loadConfigYaml
// establishes for its own global configuration.
func applyConfigYaml(path string) error {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	var values map[string]string
	if err := yaml.Unmarshal(bytes, &values); err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for name, value := range values {
		if !set[name] {
			_ = flag.Set(name, value)
		}
	}
	return nil
}
