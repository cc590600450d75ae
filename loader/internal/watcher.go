package internal

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"resumerag/config"
)

// Watcher polls a source folder and hands over files that have not changed
// for MonitoringTime. Write events seen through fsnotify restart that window.
type Watcher struct {
	cfg  config.LoaderConfig
	tick time.Duration

	fileMutex       sync.Mutex
	fileFirstSeen   map[string]time.Time
	filesProcessing map[string]bool
}

func NewWatcher(cfg config.LoaderConfig) (*Watcher, error) {
	if err := CreateDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:             cfg,
		tick:            time.Second,
		fileFirstSeen:   make(map[string]time.Time),
		filesProcessing: make(map[string]bool),
	}, nil
}

// WatchFile sends ready files to fileChan until ctx is cancelled.
func (w *Watcher) WatchFile(ctx context.Context, fileChan chan<- string) {
	log.Printf("[WATCHER] start monitoring folder: %s", w.cfg.SourceDir)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	defer log.Println("[WATCHER] file watcher stopped")

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if notifier, err := fsnotify.NewWatcher(); err != nil {
		log.Printf("[WATCHER] fsnotify unavailable, polling only: %v", err)
	} else {
		defer notifier.Close()
		if err := notifier.Add(w.cfg.SourceDir); err != nil {
			log.Printf("[WATCHER] fsnotify unavailable, polling only: %v", err)
		} else {
			events, errs = notifier.Events, notifier.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[WATCHER] fsnotify error: %v", err)
		case <-ticker.C:
			for _, filePath := range w.scan() {
				select {
				case fileChan <- filePath:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// handleEvent restarts the settle window of a file that is still being written.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}

	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()
	if w.filesProcessing[ev.Name] {
		return
	}
	w.fileFirstSeen[ev.Name] = time.Now()
}

// scan updates the tracking maps and returns the files that became ready.
func (w *Watcher) scan() []string {
	files, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		log.Printf("[WATCHER] error while reading source directory: %s", err)
		return nil
	}

	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()

	var ready []string
	currentFiles := make(map[string]bool)
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		filePath := filepath.Join(w.cfg.SourceDir, file.Name())
		currentFiles[filePath] = true

		if w.filesProcessing[filePath] {
			continue
		}

		firstSeen, exists := w.fileFirstSeen[filePath]
		if !exists {
			w.fileFirstSeen[filePath] = time.Now()
			log.Printf("[WATCHER] new file detected: %s", filePath)
			continue
		}

		if time.Since(firstSeen) >= w.cfg.MonitoringTime {
			w.filesProcessing[filePath] = true
			ready = append(ready, filePath)
		}
	}

	for filePath := range w.fileFirstSeen {
		if !currentFiles[filePath] {
			delete(w.fileFirstSeen, filePath)
			delete(w.filesProcessing, filePath)
		}
	}
	return ready
}

// Done stops tracking filePath after it was processed.
func (w *Watcher) Done(filePath string) {
	w.fileMutex.Lock()
	delete(w.filesProcessing, filePath)
	delete(w.fileFirstSeen, filePath)
	w.fileMutex.Unlock()
}

// MoveToArchive moves a processed file into <archive>/<date>/ or, when
// failed is set, into <bad>/<date>/. Name clashes get a numeric suffix.
func (w *Watcher) MoveToArchive(filePath string, failed bool) (string, error) {
	root := w.cfg.ArchiveDir
	if failed {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(filePath)
		baseName := strings.TrimSuffix(filepath.Base(filePath), ext)
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// cross-device moves fall back to copy and remove
		if err := copyFile(filePath, destPath); err != nil {
			return "", fmt.Errorf("error moving file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
	}
	log.Printf("[WATCHER] file moved to: %s", destPath)
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func CreateDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
