// Package download implements the per-feature download engine: full- and
// manifest-filtered partial-mode retrieval, redirect following, chunked
// streaming with restart-from-zero retry, and atomic publication via a
// scratch directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
	"github.com/cdsetool/cdsetool-go/pkg/credentials"
	"github.com/cdsetool/cdsetool-go/pkg/logger"
	"github.com/cdsetool/cdsetool-go/pkg/monitor"
	"github.com/cdsetool/cdsetool-go/pkg/pipeline"
	"github.com/cdsetool/cdsetool-go/pkg/query"
)

const (
	chunkSize       = 5 * 1024 * 1024
	maxFileAttempts = 10
)

// retryBaseDelay is the base wait between streamingGet attempts. It is a
// var, not a const, so tests can shrink it rather than waiting out real
// minutes-long backoff delays.
var retryBaseDelay = 60 * time.Second

// Options configures DownloadFeature/DownloadFeatures.
type Options struct {
	Credentials       *credentials.Manager
	Monitor           monitor.Monitor // defaults to monitor.NoopMonitor{}
	Concurrency       int             // default 1
	OverwriteExisting bool
	FilterPattern     string // empty => full mode
	FilterExclude     bool
	TmpDir            string // default os.TempDir()
}

// DownloadFeature retrieves one feature to destination, choosing full or
// manifest-filtered partial mode per opts.FilterPattern, and returns a
// Result describing the outcome. It never returns an error: every failure
// mode is reported through Result so a batch can continue past it.
func DownloadFeature(ctx context.Context, feature query.Feature, destination string, opts Options) Result {
	title := feature.Properties.Title
	url := feature.DownloadURL()
	collection := feature.Properties.Collection

	if url == "" || title == "" {
		logger.Debugf("download: feature %s missing url or title, skipping", feature.ID)
		return Fail(title, "missing download url or title")
	}

	partial := opts.FilterPattern != ""
	var manifestFilename string
	var basename string
	if partial {
		var ok bool
		manifestFilename, ok = manifestFilenames[collection]
		if !ok {
			return Fail(title, cdseerrors.New(cdseerrors.TypeUnsupportedCollectionForFilter,
				fmt.Sprintf("collection %q has no known manifest for filtering", collection)).Error())
		}
		basename = title
	} else {
		basename = title + ".zip"
	}

	outputPath := filepath.Join(destination, basename)
	if !opts.OverwriteExisting {
		if _, err := os.Stat(outputPath); err == nil {
			return Ok(title, basename)
		}
	}

	mon := opts.Monitor
	if mon == nil {
		mon = monitor.NoopMonitor{}
	}

	tmpRoot := opts.TmpDir
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}
	scratchDir := filepath.Join(tmpRoot, title+"____"+uuid.NewString())
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return Fail(title, fmt.Sprintf("creating scratch directory: %v", err))
	}
	defer os.RemoveAll(scratchDir)

	if !partial {
		scratchFile := filepath.Join(scratchDir, basename)
		if err := downloadFile(ctx, url, scratchFile, mon, opts.Credentials); err != nil {
			return Fail(title, err.Error())
		}
		if err := os.Rename(scratchFile, outputPath); err != nil {
			return Fail(title, fmt.Sprintf("publishing %s: %v", basename, err))
		}
		return Ok(title, basename)
	}

	if err := downloadPartial(ctx, feature.ID, title, manifestFilename, scratchDir, destination, mon, opts); err != nil {
		return Fail(title, err.Error())
	}
	return Ok(title, basename)
}

func downloadPartial(ctx context.Context, featureID, title, manifestFilename, scratchDir, destination string, mon monitor.Monitor, opts Options) error {
	manifestURL := odataNodeURL(featureID, title, manifestFilename)
	manifestScratchPath := filepath.Join(scratchDir, manifestFilename)
	if err := downloadFile(ctx, manifestURL, manifestScratchPath, mon, opts.Credentials); err != nil {
		return cdseerrors.Wrap(cdseerrors.TypeManifestFileMissing, manifestFilename, err)
	}

	manifestFile, err := os.Open(manifestScratchPath)
	if err != nil {
		return cdseerrors.Wrap(cdseerrors.TypeManifestFileMissing, manifestFilename, err)
	}
	relPaths, err := parseManifest(manifestFile, manifestFilename, opts.FilterPattern, opts.FilterExclude)
	manifestFile.Close()
	if err != nil {
		return err
	}

	productScratchDir := filepath.Join(scratchDir, title)
	if err := os.MkdirAll(productScratchDir, 0o755); err != nil {
		return fmt.Errorf("creating product scratch directory: %w", err)
	}

	// Inner-file fetches within one product are strictly sequential.
	for _, rel := range relPaths {
		innerURL := odataNodeURL(featureID, title, rel)
		innerPath := filepath.Join(productScratchDir, rel)
		if err := os.MkdirAll(filepath.Dir(innerPath), 0o755); err != nil {
			return fmt.Errorf("creating directories for %s: %w", rel, err)
		}
		if err := downloadFile(ctx, innerURL, innerPath, mon, opts.Credentials); err != nil {
			return cdseerrors.Wrap(cdseerrors.TypePerFileDownloadFailure, rel, err)
		}
	}

	finalPath := filepath.Join(destination, title)
	if err := os.Rename(productScratchDir, finalPath); err != nil {
		return fmt.Errorf("publishing %s: %w", title, err)
	}
	return nil
}

// downloadFile retrieves one file: follow redirects, issue a streaming
// GET, and write the body in fixed-size chunks, restarting from zero on
// any mid-stream error. It attempts up to maxFileAttempts times.
func downloadFile(ctx context.Context, url, localPath string, mon monitor.Monitor, creds *credentials.Manager) error {
	status := mon.Status()
	status.SetFilename(filepath.Base(localPath))
	defer status.Close()

	var lastErr error
	for attempt := 0; attempt < maxFileAttempts; attempt++ {
		if attempt > 0 {
			logger.Warnf("download %s: attempt %d/%d after error: %v", localPath, attempt+1, maxFileAttempts, lastErr)
		}

		client, err := sessionFor(ctx, creds)
		if err != nil {
			lastErr = err
			if isRetryableAuthError(err) {
				continue
			}
			return err
		}

		if err := attemptDownload(ctx, client, url, localPath, status); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("download %s: giving up after %d attempts: %w", localPath, maxFileAttempts, lastErr)
}

func sessionFor(ctx context.Context, creds *credentials.Manager) (*http.Client, error) {
	if creds == nil {
		return http.DefaultClient, nil
	}
	return creds.Session(ctx)
}

func isRetryableAuthError(err error) bool {
	var cerr *cdseerrors.Error
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.Type == cdseerrors.TypeTokenClientConnection || cerr.Type == cdseerrors.TypeTokenExpiredSignature
}

func attemptDownload(ctx context.Context, client *http.Client, rawURL, localPath string, status *monitor.StatusHandle) error {
	finalURL, err := followRedirects(ctx, client, rawURL)
	if err != nil {
		return err
	}

	resp, err := streamingGet(ctx, client, finalURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.ContentLength < 0 {
		return fmt.Errorf("streaming %s: response missing Content-Length", localPath)
	}
	status.SetFilesize(resp.ContentLength)

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return fmt.Errorf("writing %s: %w", localPath, werr)
			}
			status.AddProgress(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return fmt.Errorf("streaming %s: %w", localPath, readErr)
		}
	}

	return f.Close()
}

// followRedirects issues non-following HEAD requests, replacing the
// target URL with each Location header until the response falls outside
// the 300-399 range.
func followRedirects(ctx context.Context, client *http.Client, url string) (string, error) {
	noRedirect := &http.Client{
		Transport:     client.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		Timeout:       client.Timeout,
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := noRedirect.Do(req)
		if err != nil {
			return "", err
		}
		resp.Body.Close()

		if resp.StatusCode < 300 || resp.StatusCode > 399 {
			return url, nil
		}
		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("redirect status %d without Location header", resp.StatusCode)
		}
		url = location
	}
}

// streamingGet issues a GET and retries, waiting 60s*(1+U[0,0.25]) between
// attempts, until the response status is 200. Retries are bounded to
// maxFileAttempts so a persistently-failing server returns control to
// downloadFile's own attempt counter instead of looping forever, per the
// specification's "up to 10 attempts, then fail" contract.
func streamingGet(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	// The backoff draws each wait from interval*(1±factor); centring the
	// interval on 9/8 of the base with factor 1/9 gives [base, 1.25*base].
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseDelay * 9 / 8
	bo.MaxInterval = bo.InitialInterval
	bo.Multiplier = 1
	bo.RandomizationFactor = 1.0 / 9
	bo.MaxElapsedTime = 0

	return backoff.Retry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		logger.Warnf("download: GET %s returned status %d, retrying", url, resp.StatusCode)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxFileAttempts))
}

// DownloadFeatures fans DownloadFeature out across opts.Concurrency
// workers (default 1), yielding results lazily in completion order as the
// caller ranges over the returned sequence.
func DownloadFeatures(ctx context.Context, features func(yield func(query.Feature) bool), destination string, opts Options) func(yield func(Result, error) bool) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	mon := opts.Monitor
	if mon == nil {
		mon = monitor.NoopMonitor{}
	}
	mon.Start()

	innerOpts := opts
	innerOpts.Monitor = mon

	results := pipeline.Run(ctx, features, concurrency, func(ctx context.Context, f query.Feature) (Result, error) {
		return DownloadFeature(ctx, f, destination, innerOpts), nil
	})

	return func(yield func(Result, error) bool) {
		defer mon.Stop()
		for r, err := range results {
			if !yield(r, err) {
				return
			}
		}
	}
}
