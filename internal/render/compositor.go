// Package render turns one template plus one recipient row into finished
// certificate bytes: background image, positioned text fields, QR code.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/fontkit"
	"github.com/certforge/certforge/internal/model"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "render"))
}

// Compositor renders one document per Compose call. Safe for concurrent
// use; all per-document state lives on the stack.
type Compositor struct {
	fonts  fontkit.Resolver
	client *http.Client
	canvas Canvas
}

// NewCompositor creates a compositor drawing on the standard page. Both the
// background fetch and any webfont fetches are bounded by fetchTimeout.
func NewCompositor(fonts fontkit.Resolver, fetchTimeout time.Duration) *Compositor {
	return &Compositor{
		fonts:  fonts,
		client: &http.Client{Timeout: fetchTimeout},
		canvas: A4Landscape,
	}
}

// Canvas returns the page geometry documents are rendered on.
func (c *Compositor) Canvas() Canvas { return c.canvas }

// Job carries everything needed to render one recipient's document.
type Job struct {
	Template  *model.Template
	Recipient model.Recipient
	JobTitle  string
	CertID    string
	VerifyURL string
	QRPNG     []byte // pre-rendered QR image; nil when the QR field is disabled
}

// Compose produces the finished document bytes for one recipient. The steps
// run strictly in order: page, background, fonts, fields, QR, serialize.
// Any error aborts this document only; a custom font that fails to resolve
// is not an error — the field renders in the built-in fallback face.
func (c *Compositor) Compose(ctx context.Context, job Job) ([]byte, error) {
	pdf := gofpdf.New("L", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	if err := c.drawBackground(ctx, pdf, job.Template.BackgroundURL); err != nil {
		return nil, err
	}

	cache := c.resolveFonts(ctx, job.Template)

	if err := c.drawFields(pdf, cache, job); err != nil {
		return nil, err
	}
	if err := c.drawQR(pdf, job); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render: failed to serialize document: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBackground fetches the template's background image and stretch-draws
// it over the whole page, deliberately ignoring aspect ratio to match the
// editor preview.
func (c *Compositor) drawBackground(ctx context.Context, pdf *gofpdf.Fpdf, backgroundURL string) error {
	if backgroundURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backgroundURL, nil)
	if err != nil {
		return fmt.Errorf("render: failed to build background request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("render: background fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render: background fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("render: failed to read background bytes: %w", err)
	}

	imageType, err := sniffImageType(data)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader("background", opts, bytes.NewReader(data))
	pdf.ImageOptions("background", 0, 0, c.canvas.W, c.canvas.H, false, opts, 0, "")
	if pdf.Err() {
		return fmt.Errorf("render: failed to draw background: %w", pdf.Error())
	}
	return nil
}

// resolveFonts populates the per-document cache with every distinct
// (family, weight) pair referenced by an enabled text field. Failures only
// log: the affected fields degrade to the built-in fallback at draw time.
func (c *Compositor) resolveFonts(ctx context.Context, tpl *model.Template) *fontkit.Cache {
	cache := fontkit.NewCache(c.fonts)
	for _, e := range tpl.Fields.Entries() {
		f, ok := e.Field.(model.TextField)
		if !ok || !f.Enabled {
			continue
		}
		if _, err := cache.Resolve(ctx, f.Font, f.Bold); err != nil {
			logger.Warn("font resolution failed, field will use fallback face",
				zap.String("field", e.Key), zap.String("family", f.Font), zap.Error(err))
		}
	}
	return cache
}

// drawFields draws every enabled text field in the template's stored key
// order. Overlapping fields paint in this order, matching the editor.
func (c *Compositor) drawFields(pdf *gofpdf.Fpdf, cache *fontkit.Cache, job Job) error {
	tokens := TokenTable(job.Recipient, job.JobTitle, job.CertID, job.VerifyURL)
	registered := make(map[string]bool)

	for _, e := range job.Template.Fields.Entries() {
		f, ok := e.Field.(model.TextField)
		if !ok || !f.Enabled {
			continue
		}

		face, ok := cache.Lookup(f.Font, f.Bold)
		if !ok {
			face = fontkit.Fallback(f.Bold)
		}
		if face.Bytes != nil && !registered[face.Family+"/"+face.Style] {
			pdf.AddUTF8FontFromBytes(face.Family, face.Style, face.Bytes)
			registered[face.Family+"/"+face.Style] = true
		}

		size := f.Size
		if size <= 0 {
			size = 12
		}
		pdf.SetFont(face.Family, face.Style, size)
		r, g, b := parseHexColor(f.Color)
		pdf.SetTextColor(r, g, b)

		text := FieldText(e.Key, f, tokens)
		measured := f
		measured.Size = size
		x, y := c.canvas.TextPosition(measured, pdf.GetStringWidth(text))
		// The PDF layer's origin is top-left; flip the canvas baseline.
		pdf.Text(x, c.canvas.H-y, text)

		if pdf.Err() {
			return fmt.Errorf("render: failed to draw field %q: %w", e.Key, pdf.Error())
		}
	}
	return nil
}

// drawQR places the pre-rendered QR image, if the template enables it and
// the orchestrator supplied one.
func (c *Compositor) drawQR(pdf *gofpdf.Fpdf, job Job) error {
	qr, ok := job.Template.Fields.QR()
	if !ok || !qr.Enabled || job.QRPNG == nil {
		return nil
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qrcode", opts, bytes.NewReader(job.QRPNG))
	x, y := c.canvas.QRPosition(qr)
	// y is the square's bottom edge in canvas space; the PDF layer wants
	// the top edge from the top of the page.
	pdf.ImageOptions("qrcode", x, c.canvas.H-y-qr.Size, qr.Size, qr.Size, false, opts, 0, "")
	if pdf.Err() {
		return fmt.Errorf("render: failed to draw QR code: %w", pdf.Error())
	}
	return nil
}

// sniffImageType detects the image format from its leading bytes.
func sniffImageType(data []byte) (string, error) {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "PNG", nil
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "JPG", nil
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("GIF8")):
		return "GIF", nil
	default:
		return "", fmt.Errorf("render: unrecognized background image format")
	}
}

// parseHexColor parses a 6-hex-digit RGB color, "#" optional. Unparseable
// values fall back to black.
func parseHexColor(s string) (r, g, b int) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF)
}
