// Package summary looks up species descriptions on Wikipedia and, optionally,
// condenses them with the MeaningCloud summarization API.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound is returned when a search finds no page.
var ErrNotFound = errors.New("summary: no page found")

const userAgent = "treemap/1.0"

// maxBody bounds what is read from any one response.
const maxBody = 5 << 20

// Page is the part of a Wikipedia article treemap shows.
type Page struct {
	Title    string
	URL      string
	Extract  string // Lead section as markdown
	ImageURL string // Lead image; may be empty
}

// Wikipedia talks to one MediaWiki site, e.g. https://en.wikipedia.org.
type Wikipedia struct {
	baseURL string
	client  *http.Client
}

func NewWikipedia(baseURL string, client *http.Client) *Wikipedia {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Wikipedia{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// FindSpecies finds the page for a scientific name. A trailing " sp." (genus
// only) is dropped; if the full name finds nothing, the first two words are
// tried.
func (w *Wikipedia) FindSpecies(ctx context.Context, species string) (*Page, error) {
	species = strings.TrimSpace(strings.TrimSuffix(species, " sp."))
	page, err := w.Find(ctx, species)
	if err == nil {
		return page, nil
	}
	words := strings.Fields(species)
	if len(words) <= 2 {
		return nil, err
	}
	simplified := strings.Join(words[:2], " ")
	page, err2 := w.Find(ctx, simplified)
	if err2 != nil {
		return nil, fmt.Errorf("%w (retried as %q: %v)", err, simplified, err2)
	}
	return page, nil
}

// Find returns the best search hit for query.
func (w *Wikipedia) Find(ctx context.Context, query string) (*Page, error) {
	title, err := w.search(ctx, query)
	if err != nil {
		return nil, err
	}
	return w.summary(ctx, title)
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

func (w *Wikipedia) search(ctx context.Context, query string) (string, error) {
	q := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"1"},
		"format":   {"json"},
	}
	var resp searchResponse
	if err := w.getJSON(ctx, w.baseURL+"/w/api.php?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if len(resp.Query.Search) == 0 {
		return "", fmt.Errorf("%w for %q", ErrNotFound, query)
	}
	return resp.Query.Search[0].Title, nil
}

type summaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ExtractHTML string `json:"extract_html"`
	Original    *struct {
		Source string `json:"source"`
	} `json:"originalimage"`
	Thumbnail *struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (w *Wikipedia) summary(ctx context.Context, title string) (*Page, error) {
	path := url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	var resp summaryResponse
	if err := w.getJSON(ctx, w.baseURL+"/api/rest_v1/page/summary/"+path, &resp); err != nil {
		return nil, err
	}

	page := &Page{
		Title:   resp.Title,
		URL:     resp.ContentURLs.Desktop.Page,
		Extract: strings.TrimSpace(resp.Extract),
	}
	if resp.ExtractHTML != "" {
		if text, err := md.NewConverter("", true, nil).ConvertString(resp.ExtractHTML); err == nil {
			page.Extract = strings.TrimSpace(text)
		}
	}
	switch {
	case resp.Original != nil && resp.Original.Source != "":
		page.ImageURL = resp.Original.Source
	case resp.Thumbnail != nil && resp.Thumbnail.Source != "":
		page.ImageURL = resp.Thumbnail.Source
	}
	if page.URL == "" {
		page.URL = w.baseURL + "/wiki/" + path
	}
	return page, nil
}

// MainImage returns the page's lead image. When the summary carried none, the
// first infobox image of the article is used.
func (w *Wikipedia) MainImage(ctx context.Context, page *Page) (string, error) {
	if page.ImageURL != "" {
		return page.ImageURL, nil
	}
	body, err := w.get(ctx, page.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxBody))
	if err != nil {
		return "", err
	}
	src, ok := doc.Find(".infobox img").First().Attr("src")
	if !ok {
		return "", nil
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	return src, nil
}

func (w *Wikipedia) getJSON(ctx context.Context, u string, v any) error {
	body, err := w.get(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(io.LimitReader(body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("summary: decode %s: %w", u, err)
	}
	return nil
}

func (w *Wikipedia) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("summary: GET %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}
