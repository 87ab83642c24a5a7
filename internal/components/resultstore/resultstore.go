// Package resultstore saves extracted records into a SQLite or libSQL database.
package resultstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"scrapekit/internal/components/telemetry"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	report_store_save = "store.save"
)

//go:embed schema.sql
var Schema string

type Config struct {
	// File is a local sqlite database, ":memory:" keeps it in memory.
	File string `json:"file" yaml:"file" envconfig:"DB_FILE"`
	// Url is a remote libsql database, it takes precedence over File.
	Url       string `json:"url" yaml:"url" envconfig:"DB_URL"`
	AuthToken string `json:"auth_token" yaml:"auth_token" envconfig:"DB_AUTH_TOKEN"`
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens the database described by config and creates the schema if missing.
func (config Config) OpenDB() (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch {
	case config.Url != "":
		target := config.Url
		if config.AuthToken != "" {
			values := url.Values{}
			values.Set("authToken", config.AuthToken)
			target += "?" + values.Encode()
		}
		db, err = sql.Open("libsql", target)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	case config.File != "":
		if config.File != ":memory:" {
			err = os.MkdirAll(filepath.Dir(config.File), 0777)
			if err != nil {
				return nil, wrapOpenDB(err)
			}
		}
		db, err = sql.Open("sqlite", config.File)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		// and keeps ":memory:" databases from being opened more than once.
		db.SetMaxOpenConns(1)
		if config.File != ":memory:" {
			_, err = db.Exec("PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, wrapOpenDB(err)
			}
		}
	default:
		return nil, wrapOpenDB(fmt.Errorf("neither a file nor a url was specified"))
	}

	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(fmt.Errorf("create schema: %w", err))
	}
	return db, nil
}

type Store struct {
	db  *sql.DB
	tel telemetry.API
}

func NewStore(database *sql.DB, tel telemetry.API) Store {
	return Store{
		db:  database,
		tel: telemetry.NewScopedAPI("resultstore", telemetry.OrDefault(tel)),
	}
}

type Run struct {
	ID        int64
	Source    string
	StartedAt time.Time
}

type Record struct {
	RunID int64
	Page  string
	Index int
	Data  map[string]any
}

// Start registers a new extraction run of source.
func (s Store) Start(ctx context.Context, source string, at time.Time) (Run, error) {
	res, err := s.db.ExecContext(
		ctx,
		"insert into run(source, started_at) values (?, ?)",
		source, at.Unix(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return Run{ID: id, Source: source, StartedAt: time.Unix(at.Unix(), 0)}, nil
}

// Save appends the records of one page to run in a single transaction.
func (s Store) Save(ctx context.Context, run Run, page string, records []map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var offset int
	err = tx.QueryRowContext(
		ctx,
		"select count(*) from record where run_id = ?",
		run.ID,
	).Scan(&offset)
	if err != nil {
		return err
	}

	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			s.tel.ReportBroken(report_store_save, fmt.Errorf("marshal record: %w", err), page, i)
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			"insert into record(run_id, page, idx, data) values (?, ?, ?, ?)",
			run.ID, page, offset+i, string(data),
		)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	s.tel.ReportCount("records", int64(offset+len(records)))
	return nil
}

// Records returns the records of a run in the order they were saved.
func (s Store) Records(ctx context.Context, runID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"select page, idx, data from record where run_id = ? order by idx",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{RunID: runID}
		var data string
		err = rows.Scan(&rec.Page, &rec.Index, &data)
		if err != nil {
			return nil, err
		}
		err = json.Unmarshal([]byte(data), &rec.Data)
		if err != nil {
			s.tel.ReportWarning(report_store_save, fmt.Errorf("unmarshal record: %w", err), runID, rec.Index)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Runs lists the runs of source, newest first.
func (s Store) Runs(ctx context.Context, source string) ([]Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"select id, started_at from run where source = ? order by started_at desc, id desc",
		source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run := Run{Source: source}
		var started int64
		err = rows.Scan(&run.ID, &started)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(started, 0)
		out = append(out, run)
	}
	return out, rows.Err()
}
