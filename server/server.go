package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/diagnosis"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/saliency"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/records"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/storage"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

// Server is the application context. It is created once at startup, and shared by
// all HTTP handlers.
type Server struct {
	Log      logs.Log
	Config   *Config
	Records  *records.DB
	Storage  storage.Storage
	Analyzer *diagnosis.Analyzer

	// ShutdownComplete is sent a single value when Shutdown has finished
	ShutdownComplete chan error

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
}

// NewServer opens the record database and artifact store described by cfg.
// The models are owned by the caller, and must outlive the server.
func NewServer(log logs.Log, cfg *Config, classifier nn.Classifier, policy nn.DecisionPolicy) (*Server, error) {
	cmap, err := saliency.ParseColormap(cfg.Saliency.Colors, cfg.Saliency.Bins)
	if err != nil {
		return nil, err
	}
	analyzer := diagnosis.NewAnalyzer(log, classifier, policy)
	analyzer.Triage = cfg.Triage
	analyzer.Colormap = cmap
	analyzer.Alpha = cfg.Saliency.Alpha
	log.Infof("Saliency overlay: %v color bins, alpha %.2f", cmap.Bins(), analyzer.Alpha)

	// Open blob store
	var store storage.Storage
	if cfg.Storage.GCS != nil {
		store, err = storage.NewStorageGCS(log, cfg.Storage.GCS.Bucket)
	} else if cfg.Storage.Filesystem != nil {
		store, err = storage.NewStorageFS(log, cfg.Storage.Filesystem.Root)
	} else {
		err = errors.New("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if err != nil {
		return nil, err
	}

	db, err := records.Open(log, cfg.DB)
	if err != nil {
		closeStorage(store)
		return nil, err
	}

	return New(log, cfg, analyzer, store, db), nil
}

// New creates a server from components that have already been opened
func New(log logs.Log, cfg *Config, analyzer *diagnosis.Analyzer, store storage.Storage, db *records.DB) *Server {
	s := &Server{
		Log:              log,
		Config:           cfg,
		Records:          db,
		Storage:          store,
		Analyzer:         analyzer,
		ShutdownComplete: make(chan error, 1),
	}
	s.setupHttpRoutes()
	return s
}

// ListenHTTP blocks until the server is shut down.
// addr example: ":5000"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	signalIn := s.signalIn
	go func() {
		sig, ok := <-signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops the HTTP server, and closes the database and artifact store
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}
	s.Close()
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.ShutdownComplete <- err
}

// Close releases the database and artifact store, without touching the HTTP server
func (s *Server) Close() {
	if s.Records != nil {
		s.Records.Close()
	}
	closeStorage(s.Storage)
}

func closeStorage(store storage.Storage) {
	if c, ok := store.(io.Closer); ok {
		c.Close()
	}
}
