// Package server serves the status store over HTTP for stream overlays.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
)

const progressField = "progress"

// Reader looks up stored status values
type Reader interface {
	Get(name string) (value string, ok bool, err error)
}

// Server is the status HTTP endpoint
type Server struct {
	reader     Reader
	httpServer *http.Server
}

// New creates a server listening on addr
func New(addr string, reader Reader) *Server {
	s := &Server{reader: reader}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/progress", s.progressHandler).Methods(http.MethodGet)
	r.HandleFunc("/status/{name}", s.statusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server at %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("HTTP server stopped")
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	value, ok, err := s.reader.Get(progressField)
	if err != nil {
		logger.Error("failed to read progress: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Progress file not found."})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"progress": ParseProgress(value)})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	value, ok, err := s.reader.Get(name)
	if err != nil {
		// invalid names are the caller's fault
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Status field not found."})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": value})
}

// ParseProgress returns a float when the text has a decimal point, an
// int when it is whole, and the text itself otherwise
func ParseProgress(text string) interface{} {
	if strings.Contains(text, ".") {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
		return text
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n
	}
	return text
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}
