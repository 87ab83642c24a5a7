package browser

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/element"
)

const report_pagination_page = "pagination.page"

// Step is what one page contributes to a paginated sequence.
type Step[T any] struct {
	Items []T
	// Next is the request of the following page, nil on the last page.
	Next *Request
}

// Continue is a step followed by the page req leads to.
func Continue[T any](items []T, req Request) Step[T] {
	return Step[T]{Items: items, Next: &req}
}

// Done is the step of the last page.
func Done[T any](items []T) Step[T] {
	return Step[T]{Items: items}
}

// Paginate chains the items of every page into one lazy sequence. The first
// page is fetched from start, or is the current page when start is nil. Each
// range over the sequence starts again from the first page. Errors end the
// sequence after being yielded once.
func Paginate[T any](
	ctx context.Context,
	b *Browser,
	start *Request,
	step func(ctx context.Context, p *Page) (Step[T], error),
) iter.Seq2[T, error] {
	first := b.Page()

	return func(yield func(T, error) bool) {
		var zero T

		page := first
		if start != nil {
			var err error
			page, err = b.Location(ctx, *start)
			if err != nil {
				yield(zero, err)
				return
			}
		}
		if page == nil {
			yield(zero, ErrNoPage)
			return
		}

		for n := 1; ; n++ {
			b.tel.ReportDebug(report_pagination_page, n, page.URL().String())

			s, err := step(ctx, page)
			if err != nil {
				yield(zero, fmt.Errorf("page %d (%s): %w", n, page.URL(), err))
				return
			}
			for _, item := range s.Items {
				if !yield(item, nil) {
					return
				}
			}
			if s.Next == nil {
				return
			}

			err = ctx.Err()
			if err != nil {
				yield(zero, err)
				return
			}
			page, err = b.Location(ctx, *s.Next)
			if err != nil {
				yield(zero, fmt.Errorf("next page %d: %w", n+1, err))
				return
			}
		}
	}
}

// PaginateList extracts c from every page, following the value of its
// NextPage rule.
func PaginateList[T any](
	ctx context.Context,
	b *Browser,
	start *Request,
	c element.Collection[T],
	env map[string]any,
) iter.Seq2[T, error] {
	return Paginate(ctx, b, start, func(ctx context.Context, p *Page) (Step[T], error) {
		res, err := c.Extract(p, env)
		if err != nil {
			return Step[T]{}, err
		}
		next, err := p.NextRequest(res.Next)
		if err != nil {
			return Step[T]{}, err
		}
		return Step[T]{Items: res.Items, Next: next}, nil
	})
}

// NextRequest turns the value of a next page rule into a request, nil when
// there is no next page.
func (p *Page) NextRequest(next any) (*Request, error) {
	get := func(ref string) (*Request, error) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, nil
		}
		target, err := p.AbsURL(ref)
		if err != nil {
			return nil, err
		}
		req := Get(target.String())
		return &req, nil
	}

	switch t := next.(type) {
	case nil:
		return nil, nil
	case string:
		return get(t)
	case *url.URL:
		if t == nil {
			return nil, nil
		}
		return get(t.String())
	case Request:
		return &t, nil
	case *Request:
		return t, nil
	case *Form:
		req := t.Request()
		return &req, nil
	case document.Node:
		href, ok := t.Attr("href")
		if !ok {
			return nil, fmt.Errorf("next page <%s> has no href", t.Tag())
		}
		return get(href)
	case []document.Node:
		if len(t) == 0 {
			return nil, nil
		}
		return p.NextRequest(t[0])
	}
	return nil, fmt.Errorf("unsupported next page value %T", next)
}
