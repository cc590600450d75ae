package service

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"resumerag/config"
	"resumerag/loader/internal"
)

// Service indexes resumes dropped into the loader source folder.
type Service struct {
	logger  *slog.Logger
	indexer *Indexer
	watcher *internal.Watcher
	workers int
}

func New(indexer *Indexer, cfg config.LoaderConfig) (*Service, error) {
	watcher, err := internal.NewWatcher(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:  slog.Default(),
		indexer: indexer,
		watcher: watcher,
		workers: 2,
	}, nil
}

func (s *Service) Stop() {
	s.logger.Info("Loader Service stopped")
}

// Run watches the source folder until ctx is cancelled, then waits up to
// five seconds for in-flight files.
func (s *Service) Run(ctx context.Context) {
	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.WatchFile(ctx, fileChan)
	}()

	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ProcessFiles(ctx, fileChan)
		}()
	}

	<-ctx.Done()
	log.Println("Received shutdown signal, shutting down gracefully...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All goroutines stopped successfully")
	case <-time.After(5 * time.Second):
		log.Println("Timeout waiting for goroutines to stop, forcing shutdown...")
	}
	s.Stop()
}

// ProcessFiles indexes every file received on fileChan and moves it to the
// archive, or to the bad folder when indexing fails.
func (s *Service) ProcessFiles(ctx context.Context, fileChan <-chan string) {
	for path := range fileChan {
		s.processFile(ctx, path)
	}
}

func (s *Service) processFile(ctx context.Context, path string) {
	defer s.watcher.Done(path)

	doc, err := s.indexer.IndexFile(ctx, path)
	if err != nil && ctx.Err() != nil {
		s.logger.Warn("indexing interrupted, file left in place", "path", path)
		return
	}
	if err != nil {
		s.logger.Error("indexing failed", "path", path, "error", err)
	} else {
		s.logger.Info("file indexed", "path", path, "namespace", doc.Namespace, "vectors", doc.VectorCount)
	}

	if _, moveErr := s.watcher.MoveToArchive(path, err != nil); moveErr != nil {
		s.logger.Error("file not moved", "path", path, "error", moveErr)
	}
}
