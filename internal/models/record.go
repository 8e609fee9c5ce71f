package models

import "time"

// CrawlTask is a unit of work in the frontier: one URL to fetch, with the
// depth at which it was discovered. Depth is diagnostic only; the page
// budget is the sole hard bound on crawl size.
type CrawlTask struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// ImageRef is a reference to an image discovered on a page. LocalPath is
// empty when the download failed; the reference is kept either way.
type ImageRef struct {
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path,omitempty"`
	AltText   string `json:"alt_text,omitempty"`
}

// CrawlRecord is the durable unit of crawl output: one record per
// successfully fetched and extracted page. Records are immutable once
// written to the sink.
type CrawlRecord struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Text          string     `json:"text"`
	Images        []ImageRef `json:"images"`
	OutboundLinks []string   `json:"outbound_links"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Stats aggregates counters for a finished crawl.
type Stats struct {
	PagesFetched     int           `json:"pages_fetched"`
	PagesDenied      int           `json:"pages_denied"`
	PagesSkipped     int           `json:"pages_skipped"`
	PagesFailed      int           `json:"pages_failed"`
	RetriesExhausted int           `json:"retries_exhausted"`
	ImagesDownloaded int           `json:"images_downloaded"`
	ImagesFailed     int           `json:"images_failed"`
	Duration         time.Duration `json:"duration"`
}
