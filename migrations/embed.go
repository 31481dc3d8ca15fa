// Package migrations embeds the warehouse schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

// Direction of a migration file.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

var (
	// ErrNoMigrations is returned when the catalog holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")
	// ErrInvalidCatalog is returned when the migration files fail validation.
	ErrInvalidCatalog = errors.New("invalid migration catalog")
)

//go:embed *.sql
var embedded embed.FS

// Filenames follow 001_name.up.sql / 001_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// File describes one parsed migration filename.
	File struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}

	// Catalog lists and validates the migration files in a filesystem.
	Catalog struct {
		fs fs.FS
	}
)

// FS returns the embedded migration files.
func FS() fs.FS {
	return embedded
}

// NewCatalog returns a catalog over filesystem. Pass nil for the embedded files.
func NewCatalog(filesystem fs.FS) *Catalog {
	if filesystem == nil {
		filesystem = embedded
	}

	return &Catalog{fs: filesystem}
}

// FS returns the underlying filesystem.
func (c *Catalog) FS() fs.FS {
	return c.fs
}

// Files returns the well-formed migration files sorted by sequence, then direction.
// Anything not matching the naming convention is ignored.
func (c *Catalog) Files() ([]File, error) {
	entries, err := fs.ReadDir(c.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]File, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		file, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Sequence != files[j].Sequence {
			return files[i].Sequence < files[j].Sequence
		}

		return files[i].Direction > files[j].Direction // up before down
	})

	return files, nil
}

// Validate checks that every up file has a down file, that sequences start at
// 001 without gaps, and that each file is readable and non-empty.
func (c *Catalog) Validate() error {
	files, err := c.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	pairs := make(map[int]map[string]File)

	for _, file := range files {
		content, err := fs.ReadFile(c.fs, file.Filename)
		if err != nil {
			return fmt.Errorf("%w: cannot read %s: %w", ErrInvalidCatalog, file.Filename, err)
		}

		if len(content) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrInvalidCatalog, file.Filename)
		}

		if pairs[file.Sequence] == nil {
			pairs[file.Sequence] = make(map[string]File, 2)
		}

		if prev, dup := pairs[file.Sequence][file.Direction]; dup {
			return fmt.Errorf("%w: %s and %s share sequence %03d",
				ErrInvalidCatalog, prev.Filename, file.Filename, file.Sequence)
		}

		pairs[file.Sequence][file.Direction] = file
	}

	sequences := make([]int, 0, len(pairs))
	for seq := range pairs {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected sequence %03d, found %03d", ErrInvalidCatalog, i+1, seq)
		}

		up, hasUp := pairs[seq][DirectionUp]
		down, hasDown := pairs[seq][DirectionDown]

		switch {
		case !hasUp:
			return fmt.Errorf("%w: %s has no up migration", ErrInvalidCatalog, down.Filename)
		case !hasDown:
			return fmt.Errorf("%w: %s has no down migration", ErrInvalidCatalog, up.Filename)
		case up.Name != down.Name:
			return fmt.Errorf("%w: %s and %s name different migrations",
				ErrInvalidCatalog, up.Filename, down.Filename)
		}
	}

	return nil
}

// Latest returns the highest sequence in the catalog, or 0 when it is empty.
func (c *Catalog) Latest() int {
	files, err := c.Files()
	if err != nil || len(files) == 0 {
		return 0
	}

	return files[len(files)-1].Sequence
}

func parseFilename(name string) (File, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return File{}, false
	}

	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return File{}, false
	}

	return File{Sequence: seq, Name: m[2], Direction: m[3], Filename: name}, true
}
