package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/onnx"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server"
	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("xrayd", "Chest X-ray pneumonia triage service")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file. If omitted, defaults are used", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Override the listen address of the config file (eg :5000)", Default: ""})
	onnxLib := parser.String("", "onnxlib", &argparse.Options{Help: "Override the path to the onnxruntime shared library", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(logger, *configFile, *listen, *onnxLib); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(logger logs.Log, configFile, listen, onnxLib string) error {
	cfg, err := server.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("Failed to load config: %w", err)
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if onnxLib != "" {
		cfg.OnnxLibrary = onnxLib
	}

	if err := onnx.Initialize(logger, cfg.OnnxLibrary); err != nil {
		return err
	}
	defer onnx.Shutdown()

	logger.Infof("Loading classifier %v", cfg.Classifier.Model)
	classifier, err := onnx.LoadClassifier(cfg.Classifier.Model, cfg.Classifier.Config)
	if err != nil {
		return fmt.Errorf("Failed to load classifier: %w", err)
	}
	defer classifier.Close()

	logger.Infof("Loading decision policy %v", cfg.Policy.Model)
	policy, err := onnx.LoadPolicy(cfg.Policy.Model, cfg.Policy.Config)
	if err != nil {
		return fmt.Errorf("Failed to load decision policy: %w", err)
	}
	defer policy.Close()

	srv, err := server.NewServer(logger, cfg, classifier, policy)
	if err != nil {
		return err
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = srv.ListenHTTP(cfg.Listen)
	if !errors.Is(err, http.ErrServerClosed) {
		srv.Close()
		return err
	}
	// Don't release the models until in-flight requests are done
	return <-srv.ShutdownComplete
}
