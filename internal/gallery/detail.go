package gallery

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
)

// Detail is the extended metadata shown in the overlay.
type Detail struct {
	ID               string                    `json:"id"`
	URL              string                    `json:"url"`
	SourceURL        string                    `json:"source_url"`
	SourceHost       string                    `json:"source_host,omitempty"`
	AltText          string                    `json:"alt_text"`
	Keyword          string                    `json:"keyword"`
	Dimensions       string                    `json:"dimensions,omitempty"`
	Width            *int                      `json:"width,omitempty"`
	Height           *int                      `json:"height,omitempty"`
	Size             *int64                    `json:"size,omitempty"`
	Format           string                    `json:"format,omitempty"`
	CrawlDate        time.Time                 `json:"crawl_date"`
	Tags             []string                  `json:"tags"`
	ModelTestResults []catalog.ModelTestResult `json:"model_test_results"`
}

// NewDetail builds the overlay detail for img.
func NewDetail(img catalog.ImageMetadata) Detail {
	d := Detail{
		ID:               img.ID,
		URL:              img.URL,
		SourceURL:        img.SourceURL,
		SourceHost:       host(img.SourceURL),
		AltText:          img.AltTextOrEmpty(),
		Keyword:          img.Keyword,
		Width:            img.Width,
		Height:           img.Height,
		Size:             img.Size,
		CrawlDate:        img.CrawlDate,
		Tags:             append([]string{}, img.Tags...),
		ModelTestResults: append([]catalog.ModelTestResult{}, img.ModelTestResults...),
	}
	if img.Format != nil {
		d.Format = strings.ToUpper(*img.Format)
	}
	if img.Width != nil && img.Height != nil {
		d.Dimensions = strconv.Itoa(*img.Width) + "x" + strconv.Itoa(*img.Height)
	}
	return d
}

func host(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
