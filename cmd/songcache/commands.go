package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/deemusic/songcache/internal/download"
	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/library"
	"github.com/deemusic/songcache/internal/monitoring"
)

func listCatalog(cliCtx *cli.Context) error {
	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshot := a.lib.Snapshot()
	cat := a.lib.Catalog()
	for _, name := range cat.CategoryNames() {
		fmt.Printf("%s\n", name)
		tracks, _ := cat.Tracks(name)
		for _, t := range tracks {
			marker := " "
			if snapshot.Index.Contains(name, t.ID) {
				marker = "*"
			}
			fmt.Printf("  [%s] %-3s %s - %s (%s)\n", marker, t.ID, t.Title, t.Author, t.Duration)
		}
	}
	return nil
}

func downloadTracks(cliCtx *cli.Context) error {
	if cliCtx.NArg() == 0 {
		return errors.New("at least one track id is required")
	}

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	category := cliCtx.String(flagCategory)
	return a.runDownloads(cliCtx.Context, func() (int, error) {
		queued := 0
		for _, id := range cliCtx.Args().Slice() {
			ok, err := a.lib.EnqueueByID(category, id)
			if err != nil {
				return queued, err
			}
			if !ok {
				fmt.Printf("skipped %s/%s: already cached or queued\n", category, id)
				continue
			}
			queued++
		}
		return queued, nil
	})
}

func downloadCategory(cliCtx *cli.Context) error {
	category := cliCtx.String(flagCategory)

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.runDownloads(cliCtx.Context, func() (int, error) {
		return a.lib.EnqueueCategory(category)
	})
}

// runDownloads prints queue events while enqueue's requests drain
func (a *app) runDownloads(ctx context.Context, enqueue func() (int, error)) error {
	sub := a.lib.Events().Subscribe("cli", 64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range sub.Events {
			printEvent(e)
		}
	}()

	queued, err := enqueue()
	if err == nil && queued > 0 {
		err = a.lib.WaitIdle(ctx)
	}

	a.lib.Events().Unsubscribe(sub.ID)
	wg.Wait()

	if err != nil {
		return err
	}
	fmt.Printf("%d download(s) processed\n", queued)
	return nil
}

func printEvent(e download.Event) {
	switch e.Type {
	case download.EventStarted:
		fmt.Printf("downloading %s/%s %s\n", e.Category, e.TrackID, e.Title)
	case download.EventCompleted:
		fmt.Printf("cached %s/%s %s\n", e.Category, e.TrackID, e.Title)
	case download.EventFailed:
		if e.Reason == download.ReasonStorageFull {
			fmt.Printf("failed %s/%s: device storage is full, free up space and try again\n", e.Category, e.TrackID)
			return
		}
		fmt.Printf("failed %s/%s: %s\n", e.Category, e.TrackID, e.Error)
	}
}

func deleteTrack(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return errors.New("exactly one track id is required")
	}

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	category := cliCtx.String(flagCategory)
	id := cliCtx.Args().First()
	if err := a.lib.DeleteEntry(cliCtx.Context, category, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", category, id, err)
	}
	fmt.Printf("deleted %s/%s\n", category, id)
	return nil
}

func deleteCategory(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return errors.New("exactly one category is required")
	}

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	category := cliCtx.Args().First()
	if err := a.lib.DeleteCategory(cliCtx.Context, category); err != nil {
		return fmt.Errorf("failed to delete category %s: %w", category, err)
	}
	fmt.Printf("deleted category %s\n", category)
	return nil
}

func showStatus(cliCtx *cli.Context) error {
	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	status := a.lib.Snapshot()

	categories := make([]string, 0, len(status.Index))
	for name := range status.Index {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	for _, name := range categories {
		fmt.Printf("%s (%d)\n", name, len(status.Index[name]))
		for _, t := range status.Index[name] {
			fmt.Printf("  %-3s %s - %s\n", t.ID, t.Title, t.Author)
		}
	}
	fmt.Printf("used: %s\n", status.UsedStorage)
	fmt.Printf("free: %s\n", status.TotalStorage)
	return nil
}

func importIndex(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return errors.New("exactly one file is required")
	}

	raw, err := os.ReadFile(cliCtx.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.lib.ImportIndex(cliCtx.Context, raw); err != nil {
		if apperrors.IsMalformedMetadata(err) {
			return fmt.Errorf("index file rejected: %w", err)
		}
		return err
	}
	fmt.Println("index imported")
	return nil
}

func exportIndex(cliCtx *cli.Context) error {
	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.lib.ExportIndex()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func serve(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(cliCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := cliCtx.String(flagListen)
	if listen == "" {
		listen = a.cfg.Metrics.Listen
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving", zap.String("listen", listen), zap.Bool("metrics", a.cfg.Metrics.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	if a.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		check := a.lib.Health(r.Context())
		code := http.StatusOK
		if check.Status == monitoring.HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, check)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse(a.lib.Snapshot()))
	})

	mux.HandleFunc("/enqueue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		queued, err := a.lib.EnqueueByID(q.Get("category"), q.Get("id"))
		if err != nil {
			code := http.StatusInternalServerError
			if apperrors.IsNotFound(err) {
				code = http.StatusNotFound
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
	})

	return mux
}

func statusResponse(s library.Status) map[string]any {
	return map[string]any{
		"index":          s.Index,
		"is_downloading": s.IsDownloading,
		"current_item":   s.CurrentItem,
		"pending":        s.Pending,
		"online":         s.Online,
		"used_bytes":     s.UsedBytes,
		"used_storage":   s.UsedStorage,
		"total_storage":  s.TotalStorage,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
