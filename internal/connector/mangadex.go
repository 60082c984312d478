package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/manga-tracker/internal/config"
	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/metrics"
	"github.com/manga-tracker/internal/types"
)

// MangaDexName is the provider name recorded on synced series
const MangaDexName = "MangaDex"

const (
	opSeriesList = "fetch series list"
	opChapters   = "fetch chapters"
)

// MangaDexConnector reads the public MangaDex API
type MangaDexConnector struct {
	apiURL       string
	siteURL      string
	coverURL     string
	language     string
	fetchTimeout time.Duration
	client       *http.Client
	limiter      *rate.Limiter
}

// NewMangaDexConnector creates a MangaDex connector.
// Every request waits on a token-bucket limiter and runs under fetchTimeout.
func NewMangaDexConnector(cfg *config.MangaDexConfig, fetchTimeout time.Duration) (*MangaDexConnector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mangadex config is required")
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("mangadex api url is required")
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}

	return &MangaDexConnector{
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		siteURL:      strings.TrimRight(cfg.SiteURL, "/"),
		coverURL:     strings.TrimRight(cfg.CoverURL, "/"),
		language:     lang,
		fetchTimeout: fetchTimeout,
		client:       &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Name returns the provider name
func (c *MangaDexConnector) Name() string {
	return MangaDexName
}

// SeriesURL returns the public title page for a MangaDex manga id
func (c *MangaDexConnector) SeriesURL(nativeID string) string {
	return fmt.Sprintf("%s/title/%s", c.siteURL, nativeID)
}

type mdLocalized map[string]string

type mdMangaList struct {
	Result string `json:"result"`
	Data   []struct {
		ID         string `json:"id"`
		Attributes struct {
			Title       mdLocalized `json:"title"`
			Description mdLocalized `json:"description"`
			Status      string      `json:"status"`
			Tags        []struct {
				Attributes struct {
					Name mdLocalized `json:"name"`
				} `json:"attributes"`
			} `json:"tags"`
		} `json:"attributes"`
		Relationships []struct {
			ID         string `json:"id"`
			Type       string `json:"type"`
			Attributes *struct {
				FileName string `json:"fileName"`
			} `json:"attributes"`
		} `json:"relationships"`
	} `json:"data"`
	Total int `json:"total"`
}

type mdChapterFeed struct {
	Result string `json:"result"`
	Data   []struct {
		ID         string `json:"id"`
		Attributes struct {
			Chapter            *string `json:"chapter"`
			Title              *string `json:"title"`
			TranslatedLanguage string  `json:"translatedLanguage"`
			PublishAt          string  `json:"publishAt"`
		} `json:"attributes"`
	} `json:"data"`
	Total int `json:"total"`
}

// FetchSeriesList returns the most recently updated manga
func (c *MangaDexConnector) FetchSeriesList(ctx context.Context, page Page) ([]types.NormalizedSeries, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	q.Set("offset", strconv.Itoa(page.Offset()))
	q.Set("order[updatedAt]", "desc")
	q.Add("includes[]", "cover_art")
	q.Add("contentRating[]", "safe")
	q.Add("contentRating[]", "suggestive")

	var body mdMangaList
	if err := c.get(ctx, opSeriesList, "/manga", q, &body); err != nil {
		return nil, err
	}

	out := make([]types.NormalizedSeries, 0, len(body.Data))
	for _, item := range body.Data {
		if item.ID == "" {
			continue
		}

		title := pickLang(item.Attributes.Title, c.language, "en")
		if title == "" {
			logging.FromContext(ctx).WithField("mangaId", item.ID).Debug("Skipping MangaDex item without a title")
			continue
		}

		tags := make([]string, 0, len(item.Attributes.Tags))
		for _, t := range item.Attributes.Tags {
			if name := pickLang(t.Attributes.Name, "en"); name != "" {
				tags = append(tags, name)
			}
		}

		coverURL := ""
		for _, rel := range item.Relationships {
			if rel.Type == "cover_art" && rel.Attributes != nil && rel.Attributes.FileName != "" {
				coverURL = fmt.Sprintf("%s/covers/%s/%s", c.coverURL, item.ID, rel.Attributes.FileName)
				break
			}
		}

		out = append(out, types.NormalizedSeries{
			ID:          item.ID,
			Title:       title,
			Description: pickLang(item.Attributes.Description, c.language, "en"),
			CoverURL:    coverURL,
			Tags:        tags,
			Status:      normalizeStatus(item.Attributes.Status),
		})
	}
	return out, nil
}

// FetchChapters returns chapters of one manga in the configured language, ordered by number
func (c *MangaDexConnector) FetchChapters(ctx context.Context, seriesID string, page Page) ([]types.NormalizedChapter, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	q.Set("offset", strconv.Itoa(page.Offset()))
	q.Add("translatedLanguage[]", c.language)
	q.Set("order[chapter]", "asc")

	var body mdChapterFeed
	path := "/manga/" + url.PathEscape(seriesID) + "/feed"
	if err := c.get(ctx, opChapters, path, q, &body); err != nil {
		return nil, err
	}

	out := make([]types.NormalizedChapter, 0, len(body.Data))
	for _, item := range body.Data {
		if item.ID == "" {
			continue
		}

		ch := types.NormalizedChapter{
			ID:       item.ID,
			Number:   parseChapterNumber(item.Attributes.Chapter),
			Language: item.Attributes.TranslatedLanguage,
		}
		if item.Attributes.Title != nil {
			ch.Title = *item.Attributes.Title
		}
		if ts, err := time.Parse(time.RFC3339, item.Attributes.PublishAt); err == nil {
			ts = ts.UTC()
			ch.PublishedAt = &ts
		}
		out = append(out, ch)
	}
	return out, nil
}

// get performs one rate-limited, time-bounded GET and decodes the JSON body into out
func (c *MangaDexConnector) get(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		c.record(op, "timeout")
		return errors.NewFetchError(MangaDexName, op, err)
	}

	endpoint := c.apiURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.NewProviderError(MangaDexName, op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "manga-tracker-sync/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		fetchErr := errors.NewFetchError(MangaDexName, op, err)
		if fetchErr.Code == "PROVIDER_TIMEOUT" {
			c.record(op, "timeout")
		} else {
			c.record(op, "error")
		}
		return fetchErr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.record(op, "rate_limited")
		return errors.NewProviderRateLimitError(MangaDexName, op)
	case resp.StatusCode != http.StatusOK:
		c.record(op, "error")
		return errors.NewProviderStatusError(MangaDexName, op, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.record(op, "error")
		return errors.NewFetchError(MangaDexName, op, fmt.Errorf("decode response: %w", err))
	}

	c.record(op, "success")
	return nil
}

func (c *MangaDexConnector) record(op, outcome string) {
	metrics.RecordConnectorRequest(MangaDexName, op, outcome)
}

// pickLang returns the first non-empty value among langs, then any value in key order
func pickLang(m mdLocalized, langs ...string) string {
	if len(m) == 0 {
		return ""
	}
	for _, lang := range langs {
		if v := strings.TrimSpace(m[lang]); v != "" {
			return v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func normalizeStatus(s string) types.SeriesStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return types.SeriesStatusCompleted
	case "hiatus":
		return types.SeriesStatusHiatus
	case "cancelled", "canceled":
		return types.SeriesStatusCancelled
	default:
		return types.SeriesStatusOngoing
	}
}

// parseChapterNumber reads MangaDex's string chapter number; null or unparsable is 0
func parseChapterNumber(raw *string) float64 {
	if raw == nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return 0
	}
	return n
}
