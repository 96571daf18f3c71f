// Package migrations checks the embedded transfer schema and hands it to a
// migration registry, one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	transfer "github.com/goliatone/go-transfer"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SourceLabel = "go-transfer"
)

// Migration is one step of the transfer schema. Table is the table its up file
// creates and its down file drops.
type Migration struct {
	Version string
	Name    string
	Table   string
}

func (m Migration) UpFile() string {
	return m.Version + "_" + m.Name + ".up.sql"
}

func (m Migration) DownFile() string {
	return m.Version + "_" + m.Name + ".down.sql"
}

// Schema lists the migrations every dialect ships, in apply order. The stack and
// idempotent result tables reference transfer_jobs, so jobs come first.
var Schema = []Migration{
	{Version: "00001", Name: "transfer_jobs", Table: "transfer_jobs"},
	{Version: "00002", Name: "transfer_job_stacks", Table: "transfer_job_stacks"},
	{Version: "00003", Name: "transfer_idempotent_results", Table: "transfer_idempotent_results"},
}

// DialectSet is the transfer schema for one dialect.
type DialectSet struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	label    string
	dialects []string
	root     fs.FS
}

func WithSourceLabel(label string) Option {
	return func(r *registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.label = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects. Unknown names are
// rejected by Register.
func WithDialects(dialects ...string) Option {
	return func(r *registration) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = strings.TrimSpace(strings.ToLower(dialect))
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			r.dialects = next
		}
	}
}

// WithRoot replaces the embedded tree. The root must hold data/sql/migrations.
func WithRoot(root fs.FS) Option {
	return func(r *registration) {
		if root != nil {
			r.root = root
		}
	}
}

// Dialects resolves the schema for postgres and sqlite from root (the embedded
// tree when nil) and verifies each against Schema.
func Dialects(root fs.FS) ([]DialectSet, error) {
	if root == nil {
		root = transfer.GetMigrationsFS()
	}
	const basePath = "data/sql/migrations"
	postgresFS, err := fs.Sub(root, basePath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", basePath, err)
	}
	sqliteFS, err := fs.Sub(postgresFS, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
	}
	sets := []DialectSet{
		{Dialect: DialectPostgres, Path: basePath, FS: postgresFS},
		{Dialect: DialectSQLite, Path: basePath + "/sqlite", FS: sqliteFS},
	}
	for _, set := range sets {
		if err := verify(set); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

// Register verifies the schema and passes each selected dialect to registerFn.
// It returns the sets that were registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]DialectSet, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{
		label:    SourceLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	for _, dialect := range reg.dialects {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
		}
	}

	sets, err := Dialects(reg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]DialectSet, 0, len(reg.dialects))
	for _, set := range sets {
		if !slices.Contains(reg.dialects, set.Dialect) {
			continue
		}
		if err := registerFn(ctx, set.Dialect, reg.label, set.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", set.Dialect, set.Path, err)
		}
		registered = append(registered, set)
	}
	return registered, nil
}

// verify checks that set carries exactly the Schema migrations, each up file
// creating its table and each down file dropping it.
func verify(set DialectSet) error {
	ups, err := fs.Glob(set.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", set.Path, err)
	}
	known := make([]string, 0, len(Schema))
	for _, migration := range Schema {
		known = append(known, migration.UpFile())
		up, err := readSQL(set, migration.UpFile())
		if err != nil {
			return err
		}
		if !strings.Contains(up, "create table") || !strings.Contains(up, migration.Table) {
			return fmt.Errorf("migrations: %s/%s does not create %s", set.Path, migration.UpFile(), migration.Table)
		}
		down, err := readSQL(set, migration.DownFile())
		if err != nil {
			return err
		}
		if !strings.Contains(down, "drop table") || !strings.Contains(down, migration.Table) {
			return fmt.Errorf("migrations: %s/%s does not drop %s", set.Path, migration.DownFile(), migration.Table)
		}
	}
	for _, name := range ups {
		if !slices.Contains(known, name) {
			return fmt.Errorf("migrations: %s has unexpected migration %s", set.Path, name)
		}
	}
	return nil
}

func readSQL(set DialectSet, name string) (string, error) {
	content, err := fs.ReadFile(set.FS, name)
	if err != nil {
		return "", fmt.Errorf("migrations: %s dialect is missing %s: %w", set.Dialect, name, err)
	}
	return strings.ToLower(string(content)), nil
}
