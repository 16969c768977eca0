package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-insight/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// BundledMigrations returns the migrations shipped with the binary.
func BundledMigrations(projectID, datasetID string) ([]Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("BundledMigrations: %w", err)
	}
	return ReadMigrations(sub, projectID, datasetID)
}

// ReadMigrations reads NNNN_name.sql files from fsys in version order,
// substituting the {{PROJECT_ID}} and {{DATASET_ID}} placeholders. Files
// with other names are skipped. The checksum covers the file before
// substitution.
func ReadMigrations(fsys fs.FS, projectID, datasetID string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: reading directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := ParseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("ReadMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ParseMigrationFilename splits "0001_name.sql" into version and name.
func ParseMigrationFilename(filename string) (int, string, bool) {
	m := migrationPattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return version, m[2], true
}

// Pending returns the migrations whose version has not been applied.
func Pending(all []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	var out []Migration
	for _, m := range all {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// Migrator applies migrations to one dataset.
type Migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

// NewMigrator creates a migrator. The caller owns client.
func NewMigrator(client *bigquery.Client, projectID, datasetID, appliedBy string) *Migrator {
	return &Migrator{client: client, projectID: projectID, datasetID: datasetID, appliedBy: appliedBy}
}

// Apply runs every pending migration in order and records each one. It
// returns the number applied.
func (m *Migrator) Apply(ctx context.Context, migrations []Migration) (int, error) {
	log := logger.FromContext(ctx)

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("Apply: %w", err)
	}

	pending := Pending(migrations, applied)
	for _, mig := range pending {
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applying migration")
		if err := m.run(ctx, m.client.Query(mig.SQL)); err != nil {
			return 0, fmt.Errorf("Apply: executing %s: %w", mig.Filename, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return 0, fmt.Errorf("Apply: recording %s: %w", mig.Filename, err)
		}
	}
	return len(pending), nil
}

// Applied lists recorded migrations. A missing schema_migrations table
// means none have been applied.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := m.client.Query(fmt.Sprintf(
		"SELECT version, name, applied_at, checksum, applied_by FROM `%s.%s.schema_migrations` ORDER BY version ASC",
		m.projectID, m.datasetID))
	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("Applied: reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Applied: iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *Migrator) record(ctx context.Context, mig Migration) error {
	q := m.client.Query(fmt.Sprintf(
		"INSERT INTO `%s.%s.schema_migrations` (version, name, applied_at, checksum, applied_by) "+
			"VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)",
		m.projectID, m.datasetID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	return m.run(ctx, q)
}

func (m *Migrator) run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	return status.Err()
}
