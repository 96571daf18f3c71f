package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	transfer "github.com/goliatone/go-transfer"
	_ "github.com/mattn/go-sqlite3"
)

func TestDialects_VerifiesEmbeddedSchema(t *testing.T) {
	sets, err := Dialects(nil)
	if err != nil {
		t.Fatalf("dialects: %v", err)
	}
	if len(sets) != 2 || sets[0].Dialect != DialectPostgres || sets[1].Dialect != DialectSQLite {
		t.Fatalf("expected postgres then sqlite, got %+v", sets)
	}
	for _, set := range sets {
		matches, err := fs.Glob(set.FS, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", set.Dialect, err)
		}
		if len(matches) != len(Schema) {
			t.Fatalf("expected %d %s migrations, got %v", len(Schema), set.Dialect, matches)
		}
	}
}

func TestDialects_RejectsIncompleteSchema(t *testing.T) {
	tree := fstest.MapFS{}
	for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
		for _, migration := range Schema {
			tree[dir+"/"+migration.UpFile()] = &fstest.MapFile{Data: []byte("CREATE TABLE " + migration.Table + " (id TEXT);")}
			tree[dir+"/"+migration.DownFile()] = &fstest.MapFile{Data: []byte("DROP TABLE " + migration.Table + ";")}
		}
	}
	if _, err := Dialects(tree); err != nil {
		t.Fatalf("expected complete tree to pass, got %v", err)
	}

	missing := fstest.MapFS{}
	for name, file := range tree {
		missing[name] = file
	}
	delete(missing, "data/sql/migrations/sqlite/"+Schema[2].DownFile())
	if _, err := Dialects(missing); err == nil || !strings.Contains(err.Error(), Schema[2].DownFile()) {
		t.Fatalf("expected missing down migration error, got %v", err)
	}

	extra := fstest.MapFS{}
	for name, file := range tree {
		extra[name] = file
	}
	extra["data/sql/migrations/00004_transfer_audit.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE transfer_audit (id TEXT);")}
	if _, err := Dialects(extra); err == nil || !strings.Contains(err.Error(), "unexpected migration") {
		t.Fatalf("expected unexpected migration error, got %v", err)
	}

	wrongTable := fstest.MapFS{}
	for name, file := range tree {
		wrongTable[name] = file
	}
	wrongTable["data/sql/migrations/"+Schema[1].UpFile()] = &fstest.MapFile{Data: []byte("CREATE TABLE job_cursors (id TEXT);")}
	if _, err := Dialects(wrongTable); err == nil || !strings.Contains(err.Error(), Schema[1].Table) {
		t.Fatalf("expected wrong table error, got %v", err)
	}
}

func TestRegister_LimitsToRequestedDialects(t *testing.T) {
	var calls []string
	sets, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+"/"+label)
		return nil
	}, WithDialects(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite+"/"+SourceLabel {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}
	if len(sets) != 1 || sets[0].Dialect != DialectSQLite {
		t.Fatalf("unexpected registered sets %+v", sets)
	}
}

func TestRegister_DefaultsToBothDialects(t *testing.T) {
	var labels []string
	sets, err := Register(context.Background(), func(_ context.Context, _ string, label string, _ fs.FS) error {
		labels = append(labels, label)
		return nil
	}, WithSourceLabel("billing-transfer"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(sets) != 2 || len(labels) != 2 || labels[0] != "billing-transfer" {
		t.Fatalf("expected both dialects under the custom label, got %v", labels)
	}
}

func TestRegister_RejectsUnsupportedDialectAndMissingFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
	noop := func(context.Context, string, string, fs.FS) error { return nil }
	if _, err := Register(context.Background(), noop, WithDialects("mysql")); err == nil {
		t.Fatalf("expected unsupported dialect to fail")
	}
}

func TestTransferMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := transfer.GetMigrationsFS()
	names := []string{
		"00001_transfer_jobs",
		"00002_transfer_job_stacks",
		"00003_transfer_idempotent_results",
	}
	for _, name := range names {
		for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				migrationPath := dir + "/" + name + suffix
				content, err := fs.ReadFile(root, migrationPath)
				if err != nil {
					t.Fatalf("read migration %s: %v", migrationPath, err)
				}
				if strings.TrimSpace(string(content)) == "" {
					t.Fatalf("expected migration %s to have SQL content", migrationPath)
				}
			}
		}
	}
}

func TestSQLiteTransferMigrations_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-transfer-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(transfer.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ups := []string{
		"00001_transfer_jobs.up.sql",
		"00002_transfer_job_stacks.up.sql",
		"00003_transfer_idempotent_results.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	if _, err := db.ExecContext(context.Background(),
		`INSERT INTO transfer_jobs (id, export_service, import_service, data_vertical) VALUES (?, ?, ?, ?)`,
		"job_migration_1", "flickr", "google", "PHOTOS",
	); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if _, err := db.ExecContext(context.Background(),
		`INSERT INTO transfer_jobs (id, export_service, import_service, data_vertical, auth_state) VALUES (?, ?, ?, ?, ?)`,
		"job_migration_2", "flickr", "google", "PHOTOS", "BOGUS",
	); err == nil {
		t.Fatalf("expected auth_state check constraint violation")
	}

	insertResult := `INSERT INTO transfer_idempotent_results (id, job_id, idempotency_key) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(context.Background(), insertResult, "res_1", "job_migration_1", "photo-1"); err != nil {
		t.Fatalf("insert idempotent result: %v", err)
	}
	if _, err := db.ExecContext(context.Background(), insertResult, "res_2", "job_migration_1", "photo-1"); err == nil {
		t.Fatalf("expected unique job/key violation")
	}
	if _, err := db.ExecContext(context.Background(), insertResult, "res_3", "job_missing", "photo-1"); err == nil {
		t.Fatalf("expected foreign key violation for unknown job")
	}

	downs := []string{
		"00003_transfer_idempotent_results.down.sql",
		"00002_transfer_job_stacks.down.sql",
		"00001_transfer_jobs.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'transfer_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migrations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected transfer tables to be dropped, found %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
