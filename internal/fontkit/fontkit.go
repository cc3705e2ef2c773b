// Package fontkit resolves a requested font family and weight to a face the
// PDF compositor can draw with: either one of the PDF core fonts (the three
// built-in families) or embeddable TrueType bytes fetched from a webfont
// stylesheet API.
package fontkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font/sfnt"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "fontkit"))
}

// Built-in family names. These resolve without any network access.
const (
	FamilySerif = "serif"
	FamilySans  = "sans"
	FamilyMono  = "mono"
)

// coreFamilies maps built-in names to PDF core fonts, which every reader
// ships and which need no embedding.
var coreFamilies = map[string]string{
	FamilySerif: "Times",
	FamilySans:  "Helvetica",
	FamilyMono:  "Courier",
}

// Face is a resolved font: a family key plus style for the PDF layer, and
// the raw TrueType program when the face must be embedded (nil for core
// fonts).
type Face struct {
	Family string
	Style  string // "" regular, "B" bold
	Bytes  []byte
}

// Resolver maps (family, weight) to a drawable face.
type Resolver interface {
	Resolve(ctx context.Context, family string, bold bool) (*Face, error)
}

// Fallback returns the built-in sans face used when a requested family
// cannot be resolved.
func Fallback(bold bool) *Face {
	return &Face{Family: coreFamilies[FamilySans], Style: styleOf(bold)}
}

func styleOf(bold bool) string {
	if bold {
		return "B"
	}
	return ""
}

// legacyUserAgent identifies an old desktop browser so the stylesheet API
// serves raw TrueType URLs instead of compressed woff2.
const legacyUserAgent = "Mozilla/5.0 (Windows NT 5.1; rv:19.0) Gecko/20100101 Firefox/19.0"

// ttfURLPattern extracts the first outline-font URL from a font-face
// stylesheet.
var ttfURLPattern = regexp.MustCompile(`url\((https?://[^)]+\.ttf)\)`)

// WebResolver resolves built-in families locally and everything else via a
// webfont stylesheet API.
type WebResolver struct {
	cssURL string
	client *http.Client
}

var _ Resolver = (*WebResolver)(nil)

// NewWebResolver creates a resolver against the given stylesheet API base
// URL (e.g. "https://fonts.googleapis.com/css"). All fetches are bounded by
// timeout.
func NewWebResolver(cssURL string, timeout time.Duration) *WebResolver {
	return &WebResolver{
		cssURL: cssURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Resolve returns a drawable face for the family and weight. Built-in
// families never fail. Webfont resolution errors are returned to the
// caller, which is expected to fall back to a built-in face.
func (r *WebResolver) Resolve(ctx context.Context, family string, bold bool) (*Face, error) {
	if core, ok := coreFamilies[family]; ok {
		return &Face{Family: core, Style: styleOf(bold)}, nil
	}

	data, err := r.fetchWebfont(ctx, family, bold)
	if err != nil {
		return nil, err
	}
	if _, err := sfnt.Parse(data); err != nil {
		return nil, fmt.Errorf("fontkit: downloaded data for %q is not a parseable font: %w", family, err)
	}
	return &Face{Family: family, Style: styleOf(bold), Bytes: data}, nil
}

func (r *WebResolver) fetchWebfont(ctx context.Context, family string, bold bool) ([]byte, error) {
	weight := "400"
	if bold {
		weight = "700"
	}
	cssURL := r.cssURL + "?family=" + url.QueryEscape(family) + ":" + weight

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cssURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fontkit: failed to build stylesheet request: %w", err)
	}
	req.Header.Set("User-Agent", legacyUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fontkit: stylesheet fetch for %q failed: %w", family, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fontkit: stylesheet fetch for %q returned status %d", family, resp.StatusCode)
	}
	css, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fontkit: failed to read stylesheet for %q: %w", family, err)
	}

	match := ttfURLPattern.FindSubmatch(css)
	if match == nil {
		return nil, fmt.Errorf("fontkit: no font URL found in stylesheet for %q", family)
	}
	fontURL := string(match[1])

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fontURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fontkit: failed to build font download request: %w", err)
	}
	dlResp, err := r.client.Do(dlReq)
	if err != nil {
		return nil, fmt.Errorf("fontkit: font download for %q failed: %w", family, err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fontkit: font download for %q returned status %d", family, dlResp.StatusCode)
	}
	data, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return nil, fmt.Errorf("fontkit: failed to read font bytes for %q: %w", family, err)
	}
	return data, nil
}

// Cache memoizes successful resolutions by (family, weight). Scope is one
// document render, so a template whose fields share a family fetches it
// once. Safe for concurrent use should the recipient loop ever fan out.
type Cache struct {
	resolver Resolver

	mu    sync.Mutex
	faces map[string]*Face
}

var _ Resolver = (*Cache)(nil)

// NewCache wraps a resolver with per-document memoization.
func NewCache(resolver Resolver) *Cache {
	return &Cache{resolver: resolver, faces: make(map[string]*Face)}
}

func cacheKey(family string, bold bool) string {
	if bold {
		return family + "|bold"
	}
	return family + "|regular"
}

// Resolve returns the cached face or delegates to the wrapped resolver.
// Failures are not cached; the caller falls back per call and logs.
func (c *Cache) Resolve(ctx context.Context, family string, bold bool) (*Face, error) {
	key := cacheKey(family, bold)
	c.mu.Lock()
	face, ok := c.faces[key]
	c.mu.Unlock()
	if ok {
		return face, nil
	}

	face, err := c.resolver.Resolve(ctx, family, bold)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.faces[key] = face
	c.mu.Unlock()
	return face, nil
}

// Lookup returns the cached face without resolving.
func (c *Cache) Lookup(family string, bold bool) (*Face, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	face, ok := c.faces[cacheKey(family, bold)]
	return face, ok
}
