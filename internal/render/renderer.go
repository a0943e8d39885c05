package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Renderer draws summaries with a layout.
type Renderer struct {
	layout    *Layout
	outputDir string
	font      *opentype.Font
}

// NewRenderer prepares a renderer writing into outputDir.
func NewRenderer(layout *Layout, outputDir string) (*Renderer, error) {
	if layout == nil {
		layout = DefaultLayout()
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	return &Renderer{layout: layout, outputDir: outputDir, font: f}, nil
}

// Layout returns the renderer's layout.
func (r *Renderer) Layout() *Layout {
	return r.layout
}

// Render draws s onto the named template.
func (r *Renderer) Render(templateName string, s wrapped.Summary) (*image.RGBA, error) {
	t, err := r.layout.Template(templateName)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	if err := paintBackground(canvas, t); err != nil {
		return nil, err
	}

	textColor, err := parseColor(t.Color, color.White)
	if err != nil {
		return nil, err
	}

	values := FieldValues(s)
	faces := map[float64]font.Face{}
	defer func() {
		for _, face := range faces {
			face.Close()
		}
	}()

	for _, f := range t.Fields {
		face, ok := faces[f.Size]
		if !ok {
			face, err = opentype.NewFace(r.font, &opentype.FaceOptions{
				Size:    f.Size,
				DPI:     72,
				Hinting: font.HintingFull,
			})
			if err != nil {
				return nil, fmt.Errorf("creating font face: %w", err)
			}
			faces[f.Size] = face
		}

		format := f.Format
		if format == "" {
			format = "%v"
		}

		// Y is the top of the text, the drawer wants the baseline
		d := font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(textColor),
			Face: face,
			Dot:  fixed.P(f.X, f.Y+face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(fmt.Sprintf(format, values[f.Key]))
	}

	return canvas, nil
}

// RenderPNG renders s and encodes it as PNG.
func (r *Renderer) RenderPNG(templateName string, s wrapped.Summary) ([]byte, error) {
	img, err := r.Render(templateName, s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// Save renders s and writes it to <outputDir>/<uuid>.png, returning the path.
func (r *Renderer) Save(templateName string, s wrapped.Summary) (string, error) {
	data, err := r.RenderPNG(templateName, s)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	path := filepath.Join(r.outputDir, uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}

	logging.Logger.Info().Str("path", path).Str("template", templateName).Msg("wrapped image saved")
	return path, nil
}

func paintBackground(canvas *image.RGBA, t Template) error {
	bg, err := parseColor(t.BackgroundColor, color.Black)
	if err != nil {
		return err
	}
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	if t.Background == "" {
		return nil
	}

	f, err := os.Open(t.Background)
	if err != nil {
		return fmt.Errorf("opening background: %w", err)
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding background %s: %w", t.Background, err)
	}

	draw.CatmullRom.Scale(canvas, canvas.Bounds(), src, src.Bounds(), draw.Over, nil)
	return nil
}
