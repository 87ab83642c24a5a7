package commands

import (
	"context"
	"log/slog"
	"time"

	"scrapekit/internal/components/resultstore"
	"scrapekit/internal/sites/moodle"
	"scrapekit/pkg/configutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type MoodleConfig struct {
	BaseURL          string `json:"base_url" yaml:"base_url"`
	Username         string `json:"username" yaml:"username"`
	Password         string `json:"password" yaml:"password"`
	CloudflareBypass bool   `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`
}

var (
	moodleConfig *string
	moodleCourse *int64
	moodleDb     *string
)

func init() {
	moodleConfig = moodleCmd.PersistentFlags().String("config", "config.json5", "The file holding the moodle credentials.")
	moodleCourse = moodleSectionsCmd.Flags().Int64("course", 0, "The id of the course.")
	moodleSectionsCmd.MarkFlagRequired("course")
	moodleDb = moodleScrapeCmd.Flags().String("db", "results.db", "The database to write scrape results to.")

	moodleCmd.AddCommand(moodleCoursesCmd)
	moodleCmd.AddCommand(moodleSectionsCmd)
	moodleCmd.AddCommand(moodleScrapeCmd)
	rootCmd.AddCommand(moodleCmd)
}

var moodleCmd = &cobra.Command{
	Use:   "moodle",
	Short: "Lists what a moodle account can see.",
}

func createMoodleClient(ctx context.Context) *moodle.Client {
	cfg, err := configutil.ReadConfig[MoodleConfig](*moodleConfig)
	if err != nil {
		Fatal("failed to read config", err)
	}
	slog.Info("scraping using user", "username", cfg.Username)

	client, err := moodle.NewClient(moodle.Options{
		BaseURL:          cfg.BaseURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		RateLimit:        settings.RateLimit,
		CloudflareBypass: cfg.CloudflareBypass,
		Messages:         messageOutput(),
	})
	if err != nil {
		Fatal("failed to initialize moodle client", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()
	err = client.Login(ctx)
	if err != nil {
		Fatal("failed to login to moodle", err)
	}
	return client
}

var moodleCoursesCmd = &cobra.Command{
	Use:   "courses [--config <config.json5>]",
	Short: "Lists the courses of the dashboard.",
	Run: func(cmd *cobra.Command, args []string) {
		client := createMoodleClient(cmd.Context())

		courses, err := client.Courses(cmd.Context())
		if err != nil {
			Fatal("failed to list courses", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"id", "name", "url"})
		for _, c := range courses {
			t.AppendRow(table.Row{c.Id, c.Name, c.Url.String()})
		}
		t.Render()
	},
}

var moodleSectionsCmd = &cobra.Command{
	Use:   "sections --course <id> [--config <config.json5>]",
	Short: "Lists the sections of a course and their resources.",
	Run: func(cmd *cobra.Command, args []string) {
		client := createMoodleClient(cmd.Context())

		link, err := client.CourseURL(*moodleCourse)
		if err != nil {
			Fatal("failed to build course url", err)
		}
		sections, err := client.Sections(cmd.Context(), moodle.Course{Id: *moodleCourse, Url: link})
		if err != nil {
			Fatal("failed to list sections", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"section", "type", "resource", "url"})
		for _, s := range sections {
			resources, err := client.Resources(cmd.Context(), s)
			if err != nil {
				slog.Warn("failed to list resources", "section", s.Name, "err", err)
				t.AppendRow(table.Row{s.Name, "", "", ""})
				continue
			}
			for _, r := range resources {
				target := ""
				if r.Url != nil {
					target = r.Url.String()
				}
				t.AppendRow(table.Row{s.Name, r.Type.String(), r.Name, target})
			}
		}
		t.Render()
	},
}

// ScrapeRecords flattens a scrape into one record per resource and one per chapter.
func ScrapeRecords(courses []moodle.ScrapedCourse) []Record {
	var out []Record
	for _, course := range courses {
		for sectionIdx, section := range course.Sections {
			for resourceIdx, resource := range section.Resources {
				target := ""
				if resource.Url != nil {
					target = resource.Url.String()
				}
				out = append(out, Record{
					"course_id":    course.Id,
					"course":       course.Name,
					"section_idx":  sectionIdx,
					"section":      section.Name,
					"resource_idx": resourceIdx,
					"type":         resource.Type.String(),
					"name":         resource.Name,
					"url":          target,
				})
				for _, chapter := range resource.Chapters {
					out = append(out, Record{
						"course_id":    course.Id,
						"section_idx":  sectionIdx,
						"resource_idx": resourceIdx,
						"type":         "chapter",
						"chapter_id":   chapter.Id,
						"name":         chapter.Name,
						"content_html": chapter.ContentHtml,
					})
				}
			}
		}
	}
	return out
}

var moodleScrapeCmd = &cobra.Command{
	Use:   "scrape [--db <path/to/output.db>] [--config <config.json5>]",
	Short: "Scrapes every course of the account and writes it to a database.",
	Run: func(cmd *cobra.Command, args []string) {
		client := createMoodleClient(cmd.Context())

		db, err := resultstore.Config{File: *moodleDb}.OpenDB()
		if err != nil {
			Fatal("failed to open db", err)
		}
		defer db.Close()
		store := resultstore.NewStore(db, nil)

		t1 := time.Now()
		courses, err := client.Scrape(cmd.Context())
		if err != nil {
			Fatal("failed to scrape moodle", err)
		}
		t2 := time.Now()
		slog.Info("scraping time", "seconds", t2.Sub(t1).Seconds())

		run, err := store.Start(cmd.Context(), client.Browser.BaseURL.String(), t1)
		if err != nil {
			Fatal("failed to start run", err)
		}
		records := ScrapeRecords(courses)
		err = store.Save(cmd.Context(), run, client.Browser.BaseURL.String(), records)
		if err != nil {
			Fatal("failed to save records", err)
		}
		slog.Info("saved scrape", "run", run.ID, "records", len(records))
	},
}
