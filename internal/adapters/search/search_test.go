package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const ddgPage = `<html><body>
<div class="result results_links">
  <h2><a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.nobelprize.org%2Fliterature%2F2023&amp;rut=abc">Nobel Prize in <b>Literature</b> 2023</a></h2>
  <a class="result__snippet" href="#">The Nobel Prize in Literature 2023 was awarded to <b>Jon Fosse</b>.</a>
</div>
<div class="result">
  <h2><a class="result__a" href="https://en.wikipedia.org/wiki/Jon_Fosse">Jon Fosse - Wikipedia</a></h2>
</div>
<div class="result">
  <h2><a class="result__a" href="https://example.com/third">Third</a></h2>
  <a class="result__snippet">third snippet</a>
</div>
</body></html>`

func TestParseDuckDuckGo(t *testing.T) {
	results, err := parseDuckDuckGo(strings.NewReader(ddgPage), 5)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, domain.SearchResult{
		Title:   "Nobel Prize in Literature 2023",
		Link:    "https://www.nobelprize.org/literature/2023",
		Snippet: "The Nobel Prize in Literature 2023 was awarded to Jon Fosse.",
	}, results[0])
	assert.Equal(t, "https://en.wikipedia.org/wiki/Jon_Fosse", results[1].Link)
	assert.Empty(t, results[1].Snippet)
	assert.Equal(t, "third snippet", results[2].Snippet)

	limited, err := parseDuckDuckGo(strings.NewReader(ddgPage), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDuckDuckGo_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jon fosse", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, ddgPage)
	}))
	defer srv.Close()

	d := NewDuckDuckGo()
	d.endpoint = srv.URL
	results, err := d.Search(context.Background(), "jon fosse", 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		_, _ = io.WriteString(w, `{"web":{"results":[
			{"title":"A","url":"https://a","description":"about <strong>a</strong>"},
			{"title":"B","url":"https://b","description":"b"},
			{"title":"C","url":"https://c","description":"c"}]}}`)
	}))
	defer srv.Close()

	b := NewBrave("secret")
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SearchResult{
		{Title: "A", Link: "https://a", Snippet: "about a"},
		{Title: "B", Link: "https://b", Snippet: "b"},
	}, results)

	_, err = NewBrave("").Search(context.Background(), "q", 2)
	assert.Error(t, err)
}

type fakeProvider struct {
	name    string
	results []domain.SearchResult
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(context.Context, string, int) ([]domain.SearchResult, error) {
	f.calls++
	return f.results, f.err
}

func TestChain_FallsBack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broken := &fakeProvider{name: "brave", err: errors.New("401")}
	empty := &fakeProvider{name: "empty"}
	working := &fakeProvider{name: "ddg", results: []domain.SearchResult{{Link: "https://x"}}}

	results, err := NewChain(logger, broken, empty, working).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, "https://x", results[0].Link)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, empty.calls)

	_, err = NewChain(logger, broken, empty).Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "brave: 401")
	assert.ErrorContains(t, err, "empty: no results")

	_, err = NewChain(logger).Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := NewStatic([]string{" https://a ", "", "https://b", "https://c"})
	results, err := s.Search(context.Background(), "ignored", 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SearchResult{{Title: "https://a", Link: "https://a"}, {Title: "https://b", Link: "https://b"}}, results)
}
