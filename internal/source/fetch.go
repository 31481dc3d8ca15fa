package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

var (
	// ErrAcquisitionFailed wraps every failure to fetch or decode the dataset.
	ErrAcquisitionFailed = errors.New("source acquisition failed")
	// ErrUnsupportedLocation is returned for location schemes other than http(s), gs and file.
	ErrUnsupportedLocation = errors.New("unsupported source location")
	// ErrTooLarge is returned when the payload exceeds the configured size cap.
	ErrTooLarge = errors.New("source payload exceeds size limit")
	// ErrUnexpectedStatus is returned for non-200 HTTP responses.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

type (
	// Source acquires and decodes the dataset at one location.
	Source struct {
		cfg        *Config
		resolver   *HeaderResolver
		httpClient *http.Client
		gcsClient  func(ctx context.Context) (*storage.Client, error)
		logger     *slog.Logger
	}

	// Option configures a Source.
	Option func(*Source)
)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithHeaderResolver replaces the resolver built from the column config.
func WithHeaderResolver(r *HeaderResolver) Option {
	return func(s *Source) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithLogger sets the source logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates cfg and returns a Source. Column aliases are loaded from
// cfg.ColumnsPath unless WithHeaderResolver is given.
func New(cfg *Config, opts ...Option) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Source{
		cfg:        cfg,
		httpClient: &http.Client{},
		gcsClient: func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx)
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.resolver == nil {
		columns, err := LoadColumnConfig(cfg.ColumnsPath)
		if err != nil {
			return nil, err
		}

		s.resolver = NewHeaderResolver(columns)
	}

	return s, nil
}

// Location implements pipeline.Acquirer.
func (s *Source) Location() string {
	return s.cfg.Location
}

// Acquire implements pipeline.Acquirer: it fetches the payload and decodes it.
// Missing expected columns are logged, not returned as errors.
func (s *Source) Acquire(ctx context.Context) ([]retail.RawRecord, error) {
	start := time.Now()

	data, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Fetched source payload",
		slog.String("location", s.cfg.Location),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)),
	)

	table, err := Decode(s.cfg.Location, data, DecodeOptions{Resolver: s.resolver, Sheet: s.cfg.Sheet})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
	}

	if len(table.MissingColumns) > 0 {
		s.logger.Warn("Source is missing expected columns",
			slog.Any("missing_columns", table.MissingColumns),
			slog.Any("headers", table.Headers),
		)
	}

	for _, header := range table.IgnoredHeaders {
		s.logger.Debug("Ignoring unknown source column", slog.String("header", header))
	}

	return table.Records, nil
}

// Fetch returns the raw payload at the configured location.
func (s *Source) Fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAcquisitionFailed, s.cfg.Location, err)
	}

	return data, nil
}

func (s *Source) fetch(ctx context.Context) ([]byte, error) {
	location := strings.TrimSpace(s.cfg.Location)

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // "C:\..." parses with a one-letter scheme
		return s.fetchFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return s.fetchHTTP(ctx, location)
	case "gs":
		return s.fetchGCS(ctx, u)
	case "file":
		return s.fetchFile(u.Path)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, u.Scheme)
	}
}

func (s *Source) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	return readLimited(resp.Body, s.cfg.MaxBytes)
}

func (s *Source) fetchGCS(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket, object, err := parseGCSLocation(u)
	if err != nil {
		return nil, err
	}

	client, err := s.gcsClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}

	defer func() {
		_ = r.Close()
	}()

	return readLimited(r, s.cfg.MaxBytes)
}

func (s *Source) fetchFile(name string) ([]byte, error) {
	f, err := os.Open(name) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	return readLimited(f, s.cfg.MaxBytes)
}

func parseGCSLocation(u *url.URL) (string, string, error) {
	bucket := u.Host
	object := strings.TrimPrefix(path.Clean("/"+u.Path), "/")

	if bucket == "" || object == "" || object == "." {
		return "", "", fmt.Errorf("%w: expected gs://bucket/object, got %q", ErrUnsupportedLocation, u.String())
	}

	return bucket, object, nil
}

// readLimited reads at most maxBytes, failing rather than truncating.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}

	return data, nil
}
