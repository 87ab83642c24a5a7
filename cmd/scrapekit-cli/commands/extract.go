package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"scrapekit/internal/components/resultstore"
	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/browser"
	"scrapekit/pkg/configutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	extractConfig *string
	extractURL    *string
	extractFormat *string
	extractDb     *string
)

func init() {
	extractConfig = extractCmd.Flags().String("config", "extract.json5", "The declarative scrape to run (json5 or yaml).")
	extractURL = extractCmd.Flags().String("url", "", "Overrides the url of the config.")
	extractFormat = extractCmd.Flags().String("format", "table", "The output format: table or json.")
	extractDb = extractCmd.Flags().String("db", "", "A sqlite database the records are also saved to.")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract [--config <extract.json5>] [--url <url>] [--format table|json] [--db <path/to/results.db>]",
	Short: "Extracts records from a site following a declarative config.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[ExtractConfig](*extractConfig)
		if err != nil {
			Fatal("failed to read config", err)
		}
		if *extractURL != "" {
			cfg.URL = *extractURL
		}

		var store *resultstore.Store
		dbConfig := resultstore.Config{File: settings.DBFile, Url: settings.DBUrl, AuthToken: settings.DBAuthToken}
		if *extractDb != "" {
			dbConfig = resultstore.Config{File: *extractDb}
		}
		if dbConfig.File != "" || dbConfig.Url != "" {
			db, err := dbConfig.OpenDB()
			if err != nil {
				Fatal("failed to open db", err)
			}
			defer db.Close()
			s := resultstore.NewStore(db, nil)
			store = &s
		}

		records, err := Extract(cmd.Context(), cfg, ExtractOptions{
			UserAgent: settings.UserAgent,
			RateLimit: settings.RateLimit,
			Messages:  messageOutput(),
			Store:     store,
		})
		if err != nil {
			slog.Error("extraction stopped", "err", err, "records", len(records))
		}

		switch *extractFormat {
		case "json":
			err = WriteJSONLines(os.Stdout, records)
			if err != nil {
				Fatal("failed to write records", err)
			}
		default:
			t := newTable()
			FillTable(t, cfg.Fields, records)
			t.Render()
		}
	},
}

type ExtractOptions struct {
	UserAgent string
	RateLimit float64
	Messages  telemetry.MessageOutput
	Telemetry telemetry.API
	// Store saves the records of every page when set.
	Store *resultstore.Store
	Now   func() time.Time
}

// Extract runs cfg from its url, following next pages up to cfg.MaxPages.
// The records read before an error are returned with it.
func Extract(ctx context.Context, cfg ExtractConfig, opts ExtractOptions) ([]Record, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no url to extract from")
	}
	kind, err := parseKind(cfg.PageKind)
	if err != nil {
		return nil, err
	}
	collection, err := cfg.Collection()
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	b, err := browser.New(browser.Options{
		BaseURL:     cfg.URL,
		UserAgent:   opts.UserAgent,
		RateLimit:   opts.RateLimit,
		Burst:       1,
		DefaultPage: browser.PageConfig{Name: "extract", Kind: kind},
		Telemetry:   opts.Telemetry,
		Messages:    opts.Messages,
	})
	if err != nil {
		return nil, err
	}

	var run resultstore.Run
	if opts.Store != nil {
		run, err = opts.Store.Start(ctx, cfg.URL, now())
		if err != nil {
			return nil, err
		}
	}

	pages := 0
	step := func(ctx context.Context, p *browser.Page) (browser.Step[Record], error) {
		pages++
		res, err := collection.Extract(p, nil)
		if err != nil {
			return browser.Step[Record]{}, err
		}
		if opts.Store != nil {
			err = opts.Store.Save(ctx, run, p.URL().String(), res.Items)
			if err != nil {
				return browser.Step[Record]{}, fmt.Errorf("save: %w", err)
			}
		}
		if cfg.MaxPages > 0 && pages >= cfg.MaxPages {
			return browser.Done(res.Items), nil
		}
		next, err := p.NextRequest(res.Next)
		if err != nil {
			return browser.Step[Record]{}, err
		}
		return browser.Step[Record]{Items: res.Items, Next: next}, nil
	}

	start := browser.Get(cfg.URL)
	var records []Record
	for record, err := range browser.Paginate(ctx, b, &start, step) {
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// FillTable appends one row per record with a column per configured field.
func FillTable(t table.Writer, fields []FieldConfig, records []Record) {
	header := make(table.Row, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	t.AppendHeader(header)

	for _, r := range records {
		row := make(table.Row, len(fields))
		for i, f := range fields {
			row[i] = formatValue(r[f.Name])
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d records", len(records))})
}

// WriteJSONLines writes one json object per record.
func WriteJSONLines(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		err := enc.Encode(r)
		if err != nil {
			return err
		}
	}
	return nil
}
