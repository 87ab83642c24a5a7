package moodle

import (
	"context"
	"fmt"
)

const (
	report_scrape_course   = "scrape.course"
	report_scrape_section  = "scrape.section"
	report_scrape_resource = "scrape.resource"
	report_scrape_book     = "scrape.book"
	report_scrape_chapter  = "scrape.chapter"
)

type ScrapedChapter struct {
	Chapter
	ContentHtml string
}

type ScrapedResource struct {
	Resource
	// Chapters is only set for RESOURCE_BOOK.
	Chapters []ScrapedChapter
}

type ScrapedSection struct {
	Section
	Resources []ScrapedResource
}

type ScrapedCourse struct {
	Course
	Sections []ScrapedSection
}

// Scrape walks every course of the dashboard down to the content of book
// chapters. Only failing to list the courses is returned, the other failures
// are reported and leave the part they happen in out.
//
// The session has a single current page so the walk is sequential.
func (c *Client) Scrape(ctx context.Context) ([]ScrapedCourse, error) {
	c.tel.ReportDebug("scraping dashboard")

	courses, err := c.Courses(ctx)
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		c.tel.ReportBroken(report_client_get_courses, fmt.Errorf("get courses: no courses found"))
	}

	out := make([]ScrapedCourse, 0, len(courses))
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, c.scrapeCourse(ctx, course))
	}
	return out, nil
}

func (c *Client) scrapeCourse(ctx context.Context, course Course) ScrapedCourse {
	c.tel.ReportDebug("scraping course", course.Id, course.Name)
	scraped := ScrapedCourse{Course: course}

	sections, err := c.Sections(ctx, course)
	if err != nil {
		c.tel.ReportBroken(report_scrape_course, err, course.Id)
		return scraped
	}
	if len(sections) == 0 {
		c.tel.ReportWarning(
			report_client_get_sections,
			fmt.Errorf("get sections: no sections found in '%s' (%d)", course.Name, course.Id),
		)
	}

	for _, section := range sections {
		scraped.Sections = append(scraped.Sections, c.scrapeSection(ctx, section))
	}
	return scraped
}

func (c *Client) scrapeSection(ctx context.Context, section Section) ScrapedSection {
	c.tel.ReportDebug("scraping section", section.Name, section.Url)
	scraped := ScrapedSection{Section: section}

	resources, err := c.Resources(ctx, section)
	if err != nil {
		c.tel.ReportBroken(report_scrape_section, err, section.Url)
		return scraped
	}
	if len(resources) == 0 {
		c.tel.ReportWarning(
			report_client_get_resources,
			fmt.Errorf("get resources: no resources found in '%s' (%s)", section.Name, section.Url),
		)
	}

	for _, resource := range resources {
		scraped.Resources = append(scraped.Resources, c.scrapeResource(ctx, resource))
	}
	return scraped
}

func (c *Client) scrapeResource(ctx context.Context, resource Resource) ScrapedResource {
	scraped := ScrapedResource{Resource: resource}

	switch resource.Type {
	case RESOURCE_GENERIC, RESOURCE_FILE:
		c.tel.ReportDebug(resource.Type.String()+" resource", resource.Name)
		if resource.Url == nil {
			return scraped
		}
		target, err := c.ResolveLink(ctx, resource.Url)
		if err != nil {
			c.tel.ReportWarning(report_scrape_resource, err, resource.Url)
			return scraped
		}
		scraped.Url = target
	case RESOURCE_BOOK:
		c.tel.ReportDebug("book resource", resource.Name)
		scraped.Chapters = c.scrapeBook(ctx, resource)
	case RESOURCE_HTML_AREA:
		c.tel.ReportDebug("html area resource", fmt.Sprintf("name_len=%d", len(resource.Name)))
	default:
		c.tel.ReportBroken(report_scrape_resource, fmt.Errorf("unknown resource type"), resource.Type)
	}
	return scraped
}

func (c *Client) scrapeBook(ctx context.Context, resource Resource) []ScrapedChapter {
	chapters, err := c.Chapters(ctx, resource)
	if err != nil {
		c.tel.ReportBroken(report_scrape_book, err, resource.Url)
		return nil
	}

	out := make([]ScrapedChapter, 0, len(chapters))
	for _, chapter := range chapters {
		content, err := c.ChapterContent(ctx, chapter)
		if err != nil || content == "" {
			c.tel.ReportBroken(
				report_scrape_chapter,
				fmt.Errorf("get content: %w", err),
				chapter.Url,
			)
			continue
		}
		out = append(out, ScrapedChapter{Chapter: chapter, ContentHtml: content})
	}
	return out
}
