package htmlutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<p id="p">Hello <b>big</b> world</p>
<ul>
	<li><a href="/course/view.php?id=3">  Algebra
		II </a></li>
	<li><a href="https://other.example/x">Other</a></li>
</ul>
</body></html>`

func TestText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fixture))
	require.NoError(t, err)

	p := doc.Find("#p").Nodes[0]
	require.Equal(t, "Hello big world", GetText(p))
	require.Equal(t, []string{"Hello ", "big", " world"}, TextParts(p))
	require.Equal(t, "Hello ", OwnText(p))
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fixture))
	require.NoError(t, err)

	base, err := url.Parse("https://learn.example/index.php")
	require.NoError(t, err)

	anchors := GetAnchors(context.Background(), base, doc.Find("li a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "Algebra II", anchors[0].Name)
	require.Equal(t, "https://learn.example/course/view.php?id=3", anchors[0].Url.String())
	require.Equal(t, "https://other.example/x", anchors[1].Url.String())
}
