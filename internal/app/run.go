package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/api"
	"github.com/JakeFAU/novel-harvester/internal/dispatcher"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/id/uuid"
	"github.com/JakeFAU/novel-harvester/internal/metrics"
	queuememory "github.com/JakeFAU/novel-harvester/internal/queue/memory"
	"github.com/JakeFAU/novel-harvester/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// HarvestRequest is one synchronous harvest.
type HarvestRequest struct {
	URL       string
	BatchSize int
	// Restart clears recorded progress before running.
	Restart bool
}

// Harvest loads the collection and runs it to completion or failure.
func (a *App) Harvest(ctx context.Context, req HarvestRequest) (harvest.Summary, error) {
	coll, err := a.source.LoadCollection(ctx, req.URL)
	if err != nil {
		err = fmt.Errorf("load collection: %w", err)
		if id, idErr := a.source.CheckURL(req.URL); idErr == nil {
			a.harvester.ReportError(id, err)
		}
		return harvest.Summary{}, err
	}
	if req.Restart {
		if err := a.harvester.Reset(ctx, coll.ID); err != nil {
			a.harvester.ReportError(coll.ID, err)
			return harvest.Summary{}, err
		}
	}
	return a.harvester.Run(ctx, coll, req.BatchSize)
}

// Server is the queue, worker pool and HTTP API bound to one App.
type Server struct {
	app      *App
	queue    *queuememory.Queue
	dispatch *dispatcher.Dispatcher
	api      *api.Server
}

// NewServer wires the job queue, workers and API around the app.
func (a *App) NewServer() *Server {
	q := queuememory.NewQueue(a.cfg.Server.QueueDepth)
	jobs := queuememory.NewJobStore()

	workers := make([]*worker.Worker, 0, a.cfg.Server.Concurrency)
	for i := range a.cfg.Server.Concurrency {
		workers = append(workers, worker.New(q, jobs, a.source, a.harvester,
			a.logger.Named("worker").With(zap.Int("index", i))))
	}
	dispatch := dispatcher.New(q, jobs, uuid.New(), workers)

	apiServer := api.NewServer(api.Deps{
		Submitter:      dispatch,
		Harvests:       a.harvester,
		URLs:           a.source,
		Events:         a.broadcaster,
		Metrics:        metrics.NewHTTP(a.registry),
		MetricsHandler: metrics.Handler(a.registry),
		Ready:          a.Ready,
		Logger:         a.logger.Named("api"),
	}, api.Options{APIKey: a.cfg.Server.APIKey})

	return &Server{app: a, queue: q, dispatch: dispatch, api: apiServer}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Serve runs the workers and HTTP server until ctx ends or a termination
// signal arrives, then drains in-flight work.
func (s *Server) Serve(ctx context.Context) error {
	logger := s.app.logger
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", s.app.cfg.Server.Concurrency))
		s.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.app.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", s.app.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	s.queue.Close()
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
