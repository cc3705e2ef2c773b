package render

import "github.com/certforge/certforge/internal/model"

// Canvas is the fixed drawing surface in points, origin at the bottom-left
// corner, text anchored at its baseline.
type Canvas struct {
	W float64
	H float64
}

// A4Landscape is the page every certificate is rendered on.
var A4Landscape = Canvas{W: 841.89, H: 595.28}

// AscenderRatio approximates a font's ascender-to-em ratio when converting
// the editor's top-anchored y into a baseline. It matches the layout
// editor's approximation; changing it shifts all text vertically relative
// to previously rendered certificates.
const AscenderRatio = 0.8

// TextPosition converts a text field's editor-space placement (top-left
// origin) into the canvas drawing position for the given measured text
// width. Pure arithmetic; deterministic for fixed inputs.
func (c Canvas) TextPosition(f model.TextField, textWidth float64) (x, y float64) {
	boxWidth := f.W
	if boxWidth <= 0 {
		boxWidth = c.W
	}
	switch f.Align {
	case model.AlignCenter:
		x = f.X + boxWidth/2 - textWidth/2
	case model.AlignRight:
		x = f.X + boxWidth - textWidth
	default:
		x = f.X
	}
	y = c.H - f.Y - f.Size*AscenderRatio
	return x, y
}

// QRPosition flips the QR entry's editor-space top-left box into the
// bottom-left-anchored position of a square of side f.Size.
func (c Canvas) QRPosition(f model.QRField) (x, y float64) {
	return f.X, c.H - f.Y - f.Size
}
