package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

const archive = `<html><head>
<meta property="og:image:secure_url" content="https://cdn.test/doc/page_1.jpg">
</head><body>
<ul class="editions">
  <li><a href="/pdf/2024-03-04.pdf">4 de marzo de 2024</a></li>
  <li><a href="/pdf/2024-03-05.pdf" data-code="A55">5 de marzo de 2024</a></li>
</ul>
<span class="pages"> 32 </span>
</body></html>`

func TestFindXPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  domain.Locator
		want []string
	}{
		{name: "attribute node", loc: domain.Locator{XPath: "//a[contains(., '5 de marzo')]/@href"}, want: []string{"/pdf/2024-03-05.pdf"}},
		{name: "attr option", loc: domain.Locator{XPath: "//a", Attr: "data-code"}, want: []string{"A55"}},
		{name: "text", loc: domain.Locator{XPath: "//span[@class='pages']"}, want: []string{"32"}},
		{name: "no match", loc: domain.Locator{XPath: "//a[contains(., '6 de marzo')]"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Find([]byte(archive), tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindCSS(t *testing.T) {
	t.Parallel()

	got, ok, err := First([]byte(archive), domain.Locator{CSS: "meta[property='og:image:secure_url']", Attr: "content"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/doc/page_1.jpg", got)

	links, err := Find([]byte(archive), domain.Locator{CSS: "ul.editions a"})
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestFindErrors(t *testing.T) {
	t.Parallel()

	_, err := Find([]byte(archive), domain.Locator{})
	require.Error(t, err)
	_, err = Find([]byte(archive), domain.Locator{XPath: "//a[@"})
	require.Error(t, err)

	_, ok, err := First([]byte(archive), domain.Locator{CSS: "table"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	got, err := Resolve("https://www.argia.test/archive/2024", "/pdf/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://www.argia.test/pdf/a.pdf", got)

	got, err = Resolve("https://www.argia.test/archive/", "https://cdn.test/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/b.pdf", got)
}

func TestSelector(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.Locator{XPath: "//img[@id='p1']", Attr: "src"}, Selector("//img[@id='p1']", "src"))
	assert.Equal(t, domain.Locator{XPath: "(//a)[1]"}, Selector("(//a)[1]", ""))
	assert.Equal(t, domain.Locator{CSS: "a.pdf", Attr: "href"}, Selector("a.pdf", "href"))
}

func TestIsXPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		selector string
		want     bool
	}{
		{selector: "//a[@id='login']", want: true},
		{selector: "(//img)[1]", want: true},
		{selector: "./span", want: true},
		{selector: "  /html/body", want: true},
		{selector: "#viewer", want: false},
		{selector: "meta[property='og:image']", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsXPath(tt.selector))
		})
	}
}
