package commands

import (
	"net/url"
	"testing"

	"scrapekit/internal/sites/moodle"

	"github.com/stretchr/testify/require"
)

func TestScrapeRecords(t *testing.T) {
	book, err := url.Parse("https://learn.example.org/mod/book/view.php?id=7")
	require.NoError(t, err)

	records := ScrapeRecords([]moodle.ScrapedCourse{{
		Course: moodle.Course{Id: 12, Name: "Algebra II"},
		Sections: []moodle.ScrapedSection{{
			Section: moodle.Section{Name: "Week 1"},
			Resources: []moodle.ScrapedResource{
				{Resource: moodle.Resource{Type: moodle.RESOURCE_HTML_AREA, Name: "**intro**"}},
				{
					Resource: moodle.Resource{Type: moodle.RESOURCE_BOOK, Name: "Textbook", Url: book},
					Chapters: []moodle.ScrapedChapter{
						{Chapter: moodle.Chapter{Id: 2, Name: "Limits"}, ContentHtml: "<p>limits</p>"},
					},
				},
			},
		}},
	}})

	require.Len(t, records, 3)
	require.Equal(t, "html", records[0]["type"])
	require.Equal(t, "", records[0]["url"])
	require.Equal(t, book.String(), records[1]["url"])
	require.Equal(t, Record{
		"course_id":    int64(12),
		"section_idx":  0,
		"resource_idx": 1,
		"type":         "chapter",
		"chapter_id":   int64(2),
		"name":         "Limits",
		"content_html": "<p>limits</p>",
	}, records[2])
}
