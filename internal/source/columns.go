package source

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

const (
	// DefaultColumnsPath is the default location of the column alias file.
	DefaultColumnsPath = ".retail.yaml"

	// ColumnsPathEnvVar overrides DefaultColumnsPath.
	ColumnsPathEnvVar = "RETAIL_COLUMNS_PATH"
)

// builtinAliases cover the header names of the Online Retail II release.
var builtinAliases = map[string]string{
	"Invoice":     retail.ColumnInvoiceNo,
	"Price":       retail.ColumnUnitPrice,
	"Customer ID": retail.ColumnCustomerID,
}

type (
	// ColumnConfig holds header aliases loaded from .retail.yaml.
	//
	//	header_aliases:
	//	  "Invoice Number": InvoiceNo
	//	  "Cust": CustomerID
	ColumnConfig struct {
		// HeaderAliases maps a source header to a canonical column name.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		HeaderAliases map[string]string `yaml:"header_aliases"`
	}

	// HeaderResolver maps source headers to canonical column names.
	// Immutable after construction and safe for concurrent use.
	HeaderResolver struct {
		lookup map[string]string
	}
)

// LoadColumnConfig loads aliases from a YAML file.
//
// A missing, unreadable or invalid file yields an empty config and no error:
// aliases are optional and the built-in header matching still applies.
func LoadColumnConfig(path string) (*ColumnConfig, error) {
	cfg := &ColumnConfig{HeaderAliases: make(map[string]string)}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Column config not found, using built-in headers", slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read column config, using built-in headers",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse column config, using built-in headers",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &ColumnConfig{HeaderAliases: make(map[string]string)}, nil
	}

	if cfg.HeaderAliases == nil {
		cfg.HeaderAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadColumnConfigFromEnv loads the alias file named by RETAIL_COLUMNS_PATH.
func LoadColumnConfigFromEnv() (*ColumnConfig, error) {
	return LoadColumnConfig(config.GetEnvStr(ColumnsPathEnvVar, DefaultColumnsPath))
}

// NewHeaderResolver builds a resolver from the canonical columns, the built-in
// aliases and cfg. Configured aliases win over built-in ones; aliases naming an
// unknown column are skipped with a warning. cfg may be nil.
func NewHeaderResolver(cfg *ColumnConfig) *HeaderResolver {
	r := &HeaderResolver{lookup: make(map[string]string)}

	for _, column := range retail.ExpectedColumns {
		r.lookup[headerKey(column)] = column
	}

	for alias, column := range builtinAliases {
		r.lookup[headerKey(alias)] = column
	}

	if cfg == nil {
		return r
	}

	canonical := make(map[string]string, len(retail.ExpectedColumns))
	for _, column := range retail.ExpectedColumns {
		canonical[headerKey(column)] = column
	}

	for alias, target := range cfg.HeaderAliases {
		column, ok := canonical[headerKey(target)]
		if !ok {
			slog.Warn("Skipping header alias for unknown column",
				slog.String("alias", alias),
				slog.String("column", target))

			continue
		}

		if key := headerKey(alias); key != "" {
			r.lookup[key] = column
		}
	}

	return r
}

// Resolve returns the canonical column for a source header.
func (r *HeaderResolver) Resolve(header string) (string, bool) {
	if r == nil {
		return "", false
	}

	column, ok := r.lookup[headerKey(header)]

	return column, ok
}

// headerKey folds case and drops spaces, underscores, dashes and quotes, so
// "Customer ID", "customer_id" and "CustomerID" compare equal.
func headerKey(header string) string {
	header = strings.TrimPrefix(strings.TrimSpace(header), "\ufeff")

	var b strings.Builder

	for _, r := range strings.ToLower(header) {
		switch r {
		case ' ', '_', '-', '"', '\'', '\t':
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
