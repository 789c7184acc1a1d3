// Command migrate applies versioned BigQuery schema migrations. Migration
// files live in migrations/ as NNNN_name.sql; applied versions are recorded
// in a schema_migrations table so reruns are no-ops.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

var (
	projectID     = flag.String("project", "", "GCP project ID (required)")
	datasetID     = flag.String("dataset", "finledger", "BigQuery dataset ID")
	migrationsDir = flag.String("migrations", "migrations", "path to migrations directory")
)

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename splits NNNN_name.sql into its version and name.
func parseFilename(filename string) (int, string, bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

func main() {
	flag.Parse()
	if *projectID == "" {
		log.Fatal("-project flag is required")
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("creating BigQuery client: %v", err)
	}
	defer client.Close()

	if err := ensureMigrationsTable(ctx, client); err != nil {
		log.Fatalf("ensuring schema_migrations table: %v", err)
	}

	migrations, err := readMigrations(*migrationsDir)
	if err != nil {
		log.Fatalf("reading migrations: %v", err)
	}
	applied, err := appliedVersions(ctx, client)
	if err != nil {
		log.Fatalf("reading applied migrations: %v", err)
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Printf("  [skip] %04d_%s", m.Version, m.Name)
			continue
		}
		log.Printf("  [run]  %04d_%s", m.Version, m.Name)
		if err := runSQL(ctx, client, m.SQL, nil); err != nil {
			log.Fatalf("applying %04d_%s: %v", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, m); err != nil {
			log.Fatalf("recording %04d_%s: %v", m.Version, m.Name, err)
		}
		ran++
	}
	if ran == 0 {
		log.Println("schema is up to date")
	} else {
		log.Printf("applied %d migration(s)", ran)
	}
}

func readMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseFilename(entry.Name())
		if !ok {
			log.Printf("skipping %s: not a NNNN_name.sql migration", entry.Name())
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		// Checksum the raw file so the recorded identity is independent of
		// the project and dataset it was applied to.
		sum := sha256.Sum256(content)

		sql := string(content)
		sql = strings.ReplaceAll(sql, "{{PROJECT_ID}}", *projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", *datasetID)

		migrations = append(migrations, migration{
			Version:  version,
			Name:     name,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sum),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func ensureMigrationsTable(ctx context.Context, client *bigquery.Client) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING
		)
	`, *projectID, *datasetID)
	return runSQL(ctx, client, sql, nil)
}

func appliedVersions(ctx context.Context, client *bigquery.Client) (map[int]bool, error) {
	q := client.Query(fmt.Sprintf(
		"SELECT version FROM `%s.%s.schema_migrations`", *projectID, *datasetID))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	applied := make(map[int]bool)
	for {
		var row struct {
			Version int64 `bigquery:"version"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		applied[int(row.Version)] = true
	}
	return applied, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, m migration) error {
	sql := fmt.Sprintf(`
		INSERT `+"`%s.%s.schema_migrations`"+` (version, name, applied_at, checksum)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum)
	`, *projectID, *datasetID)
	return runSQL(ctx, client, sql, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
	})
}

func runSQL(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	q := client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
