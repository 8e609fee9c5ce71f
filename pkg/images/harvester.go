// Package images downloads page images into a local directory with
// crawl-lifetime deduplication and deterministic filenames.
package images

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ruvinda/webharvest/internal/models"
	"github.com/ruvinda/webharvest/pkg/extractor"
)

// maxImageSize caps a single image download.
const maxImageSize = 20 * 1024 * 1024

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

// Harvester downloads referenced images under a per-page limit. A source
// URL is downloaded at most once per crawl; later references reuse the
// stored local path. Safe for concurrent use.
type Harvester struct {
	client       *http.Client
	dir          string
	perPageLimit int
	userAgent    string
	logger       zerolog.Logger

	mu         sync.Mutex
	localPaths map[string]string // source URL -> local path, "" if download failed
	downloaded int
	failed     int

	flights singleflight.Group
}

// New creates a Harvester writing into dir, creating it if needed.
func New(client *http.Client, dir string, perPageLimit int, userAgent string, logger zerolog.Logger) (*Harvester, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &Harvester{
		client:       client,
		dir:          dir,
		perPageLimit: perPageLimit,
		userAgent:    userAgent,
		logger:       logger.With().Str("component", "images").Logger(),
		localPaths:   make(map[string]string),
	}, nil
}

// Harvest resolves up to the per-page limit of image candidates into
// ImageRefs. A failed download degrades to a reference without a local
// path; it never fails the page.
func (h *Harvester) Harvest(ctx context.Context, pageURL string, candidates []extractor.ImageCandidate) []models.ImageRef {
	if h.perPageLimit > 0 && len(candidates) > h.perPageLimit {
		candidates = candidates[:h.perPageLimit]
	}

	refs := make([]models.ImageRef, 0, len(candidates))
	for _, c := range candidates {
		ref := models.ImageRef{SourceURL: c.URL, AltText: c.Alt}
		ref.LocalPath = h.fetch(ctx, c.URL)
		if ref.LocalPath == "" {
			h.logger.Debug().Str("page", pageURL).Str("image", c.URL).Msg("image reference kept without local copy")
		}
		refs = append(refs, ref)
	}
	return refs
}

// Stats returns the number of successful and failed downloads so far.
func (h *Harvester) Stats() (downloaded, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.downloaded, h.failed
}

// fetch returns the local path for a source URL, downloading on first use.
// Concurrent requests for the same URL share a single download.
func (h *Harvester) fetch(ctx context.Context, sourceURL string) string {
	h.mu.Lock()
	if local, ok := h.localPaths[sourceURL]; ok {
		h.mu.Unlock()
		return local
	}
	h.mu.Unlock()

	v, _, _ := h.flights.Do(sourceURL, func() (interface{}, error) {
		local := h.download(ctx, sourceURL)

		h.mu.Lock()
		h.localPaths[sourceURL] = local
		if local == "" {
			h.failed++
		} else {
			h.downloaded++
		}
		h.mu.Unlock()

		return local, nil
	})
	return v.(string)
}

// download retrieves one image and writes it to its deterministic path.
// Returns "" on any failure.
func (h *Harvester) download(ctx context.Context, sourceURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		h.logger.Warn().Str("image", sourceURL).Err(err).Msg("image request failed")
		return ""
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn().Str("image", sourceURL).Err(err).Msg("image download failed")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.logger.Warn().Str("image", sourceURL).Int("status", resp.StatusCode).Msg("image download failed")
		return ""
	}

	local := filepath.Join(h.dir, Filename(sourceURL))
	f, err := os.Create(local)
	if err != nil {
		h.logger.Warn().Str("image", sourceURL).Err(err).Msg("image file create failed")
		return ""
	}

	_, err = io.Copy(f, io.LimitReader(resp.Body, maxImageSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		h.logger.Warn().Str("image", sourceURL).Err(err).Msg("image write failed")
		os.Remove(local)
		return ""
	}

	return local
}

// Filename derives a deterministic, filesystem-safe name for a source URL:
// the sanitized basename plus a short hash of the full URL, so two distinct
// URLs sharing a basename never collide.
func Filename(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	hash := hex.EncodeToString(sum[:])[:10]

	base := "image"
	ext := ""
	if u, err := url.Parse(sourceURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			ext = path.Ext(b)
			base = strings.TrimSuffix(b, ext)
		}
	}

	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "image"
	}
	if len(base) > 80 {
		base = base[:80]
	}

	return base + "_" + hash + ext
}
