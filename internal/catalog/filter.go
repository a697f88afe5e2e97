package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// SortOrder orders gallery rows by crawl date.
type SortOrder string

// Supported sort orders.
const (
	SortNewestFirst SortOrder = "desc"
	SortOldestFirst SortOrder = "asc"
)

// ParseSortOrder accepts "", "desc" or "asc" (case-insensitive). Empty means
// newest first.
func ParseSortOrder(raw string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SortNewestFirst):
		return SortNewestFirst, nil
	case string(SortOldestFirst):
		return SortOldestFirst, nil
	default:
		return "", fmt.Errorf("invalid sort order %q", raw)
	}
}

// Ascending reports whether o puts older rows first.
func (o SortOrder) Ascending() bool {
	return o == SortOldestFirst
}

// MatchesKeyword reports whether img matches keyword: a case-insensitive
// substring of the alt text or the keyword field, or a tag equal to it ignoring
// case. An empty keyword matches everything.
func MatchesKeyword(img ImageMetadata, keyword string) bool {
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return true
	}
	needle := strings.ToLower(kw)
	if strings.Contains(strings.ToLower(img.AltTextOrEmpty()), needle) {
		return true
	}
	for _, tag := range img.Tags {
		if strings.EqualFold(tag, kw) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(img.Keyword), needle)
}

// FilterImages returns the rows of in matching keyword, preserving order.
func FilterImages(in []ImageMetadata, keyword string) []ImageMetadata {
	out := make([]ImageMetadata, 0, len(in))
	for _, img := range in {
		if MatchesKeyword(img, keyword) {
			out = append(out, img)
		}
	}
	return out
}

// SortImages orders images in place by crawl date. The sort is stable so rows
// sharing a timestamp keep the store's order.
func SortImages(images []ImageMetadata, order SortOrder) {
	asc := order.Ascending()
	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i].CrawlDate, images[j].CrawlDate
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})
}

// SortCrawlJobs orders jobs newest start time first.
func SortCrawlJobs(jobs []CrawlJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].StartTime.After(jobs[j].StartTime)
	})
}
