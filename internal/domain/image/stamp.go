package image

import (
	"bytes"
	"fmt"
	stdimage "image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"rizo-card-bot/internal/platform/errors"
	"rizo-card-bot/internal/platform/logging"
)

// Stamper imprints the foil authenticity mark onto finished cards. The
// stamp asset is decoded once at startup.
type Stamper struct {
	stamp   stdimage.Image
	scale   float64
	xOffset float64
	yOffset float64
}

// StampConfig positions the foil mark. Scale is the stamp width as a
// fraction of the card width; offsets shift the mark from the
// bottom-right corner as fractions of the card dimensions.
type StampConfig struct {
	Path    string
	Scale   float64
	XOffset float64
	YOffset float64
}

// NewStamper loads the stamp asset from disk. A missing asset is not
// fatal: cards are then delivered without the foil mark.
func NewStamper(cfg StampConfig) (*Stamper, error) {
	raw, err := os.ReadFile(cfg.Path)
	if os.IsNotExist(err) {
		logging.DefaultLogger.WarnTag("pipeline",
			"stamp asset %s not found, cards will ship without the foil mark", cfg.Path)
		return &Stamper{
			scale:   cfg.Scale,
			xOffset: cfg.XOffset,
			yOffset: cfg.YOffset,
		}, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindBootstrap, "image.NewStamper",
			fmt.Sprintf("read stamp asset %s", cfg.Path), err)
	}
	stamp, _, err := stdimage.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.KindBootstrap, "image.NewStamper",
			"decode stamp asset", err)
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 0.13
	}
	return &Stamper{
		stamp:   stamp,
		scale:   scale,
		xOffset: cfg.XOffset,
		yOffset: cfg.YOffset,
	}, nil
}

// Apply composites the stamp into the bottom-right corner of the card
// and re-encodes it as PNG. Without a loaded stamp asset the card
// passes through untouched.
func (s *Stamper) Apply(cardPNG []byte) ([]byte, error) {
	if s.stamp == nil {
		return cardPNG, nil
	}

	src, _, err := stdimage.Decode(bytes.NewReader(cardPNG))
	if err != nil {
		return nil, errors.Wrap(errors.KindPipeline, "image.Apply",
			"decode card image", err)
	}

	bounds := src.Bounds()
	out := stdimage.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)

	stampW := int(float64(bounds.Dx()) * s.scale)
	if stampW < 1 {
		stampW = 1
	}
	ratio := float64(stampW) / float64(s.stamp.Bounds().Dx())
	stampH := int(float64(s.stamp.Bounds().Dy()) * ratio)
	if stampH < 1 {
		stampH = 1
	}

	scaled := stdimage.NewRGBA(stdimage.Rect(0, 0, stampW, stampH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), s.stamp, s.stamp.Bounds(), draw.Over, nil)

	posX := bounds.Dx() - stampW + int(float64(bounds.Dx())*s.xOffset)
	posY := bounds.Dy() - stampH + int(float64(bounds.Dy())*s.yOffset)
	target := stdimage.Rect(posX, posY, posX+stampW, posY+stampH).Add(bounds.Min)

	draw.Draw(out, target, scaled, stdimage.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, errors.Wrap(errors.KindPipeline, "image.Apply",
			"encode stamped card", err)
	}
	return buf.Bytes(), nil
}
