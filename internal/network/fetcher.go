package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/monitoring"
)

// PartialSuffix marks a file that is still being written
const PartialSuffix = ".part"

// HTTPFetcher downloads remote resources to local paths. Bytes are written to
// <path>.part and renamed into place only once the body is complete.
type HTTPFetcher struct {
	client  *http.Client
	fs      afero.Fs
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client uses GetDownloadClient, a nil
// fs the OS filesystem and a nil limiter disables pacing.
func NewHTTPFetcher(client *http.Client, fs afero.Fs, limiter *rate.Limiter, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = GetDownloadClient(0)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		client:  client,
		fs:      fs,
		limiter: limiter,
		logger:  logger.Named("fetcher"),
	}
}

// NewLimiter builds a request pacer; rps <= 0 means unlimited
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Fetch downloads remoteURI to localPath and returns localPath. Failures are
// classified as NotFound, Network, StorageFull or FileSystem errors, and no
// file is left at localPath or its partial path.
func (f *HTTPFetcher) Fetch(ctx context.Context, remoteURI, localPath string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", apperrors.NewNetworkError("rate limiter error", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURI, nil)
	if err != nil {
		return "", apperrors.NewNetworkError(fmt.Sprintf("invalid resource uri %q", remoteURI), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", apperrors.NewNetworkError("download request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", apperrors.NewNotFoundError(fmt.Sprintf("resource %s not found", remoteURI))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", apperrors.NewNetworkError(fmt.Sprintf("download failed with status: %d", resp.StatusCode), nil)
	}

	if err := f.fs.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", classifyWriteError("failed to create cache directory", err)
	}

	partialPath := localPath + PartialSuffix
	n, err := f.writePartial(partialPath, resp.Body)
	if err != nil {
		f.fs.Remove(partialPath)
		return "", err
	}

	if resp.ContentLength > 0 && n < resp.ContentLength {
		f.fs.Remove(partialPath)
		return "", apperrors.NewNetworkError(fmt.Sprintf("download incomplete: %d of %d bytes", n, resp.ContentLength), nil)
	}

	if err := f.fs.Rename(partialPath, localPath); err != nil {
		f.fs.Remove(partialPath)
		return "", classifyWriteError("failed to move file to final location", err)
	}

	monitoring.RecordFetchedBytes(n)
	f.logger.Debug("fetched resource",
		zap.String("uri", remoteURI),
		zap.String("path", localPath),
		zap.String("size", humanize.IBytes(uint64(n))),
	)

	return localPath, nil
}

func (f *HTTPFetcher) writePartial(path string, body io.Reader) (int64, error) {
	file, err := f.fs.Create(path)
	if err != nil {
		return 0, classifyWriteError("failed to create output file", err)
	}

	dst := &errWriter{w: file}
	buffered := bufio.NewWriterSize(dst, 256*1024)

	n, err := io.Copy(buffered, body)
	if err == nil {
		err = buffered.Flush()
	}
	if closeErr := file.Close(); err == nil && closeErr != nil {
		dst.err = closeErr
		err = closeErr
	}

	if err != nil {
		if dst.err != nil {
			return n, classifyWriteError("failed to write to file", dst.err)
		}
		return n, apperrors.NewNetworkError("error reading response", err)
	}
	return n, nil
}

// errWriter remembers the first error from the underlying writer so write
// failures can be told apart from read failures
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

func classifyWriteError(message string, err error) error {
	if apperrors.IsStorageFull(err) {
		return apperrors.NewStorageFullError(message, err)
	}
	return apperrors.NewFileSystemError(message, err)
}
