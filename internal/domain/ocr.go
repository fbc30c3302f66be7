package domain

import "strings"

// Point is the single geometry value type of the pipeline. Producers with
// other corner encodings are converted at the activity boundary; nothing
// downstream branches on input shape.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box with a top-left origin.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// BoundingRect computes the smallest Rect covering all points. Width and
// height are at least 1 so a degenerate polygon still crops one pixel.
func BoundingRect(points []Point) Rect {
	if len(points) == 0 {
		return Rect{W: 1, H: 1}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	r := Rect{
		X: int(minX + 0.5),
		Y: int(minY + 0.5),
		W: int(maxX-minX + 0.5),
		H: int(maxY-minY + 0.5),
	}
	if r.W < 1 {
		r.W = 1
	}
	if r.H < 1 {
		r.H = 1
	}
	return r
}

// Clamp restricts the rect to a width*height frame.
func (r Rect) Clamp(width, height int) Rect {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X > width-1 {
		r.X = width - 1
	}
	if r.Y > height-1 {
		r.Y = height - 1
	}
	if r.W < 1 {
		r.W = 1
	}
	if r.H < 1 {
		r.H = 1
	}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	return r
}

// TextLine is one detected line of text with its bounding polygon.
type TextLine struct {
	Text            string  `json:"text"`
	BoundingPolygon []Point `json:"boundingPolygon,omitempty"`
}

type TextBlock struct {
	Lines []TextLine `json:"lines"`
}

// OCRPayload is the structured result of the text-extraction stage.
type OCRPayload struct {
	Blocks []TextBlock `json:"blocks"`
}

// LineTexts flattens the payload into the ordered line texts, skipping
// empty lines.
func (p OCRPayload) LineTexts() []string {
	var lines []string
	for _, block := range p.Blocks {
		for _, line := range block.Lines {
			if strings.TrimSpace(line.Text) != "" {
				lines = append(lines, line.Text)
			}
		}
	}
	return lines
}

// OCRStageOutput is the text-extraction stage result: structured payload,
// the processed frame copied into the output container, and an optional
// overlay with detected line boxes.
type OCRStageOutput struct {
	Result     OCRPayload `json:"ocrResult"`
	OutputRef  BlobRef    `json:"outputBlob"`
	OverlayRef *BlobRef   `json:"overlayBlob,omitempty"`
}
