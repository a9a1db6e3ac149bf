package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFitDisabled(t *testing.T) {
	data := encodePNG(t, 40, 20)
	out, err := Fit(data, 0)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected input returned unchanged")
	}
}

func TestFitAlreadySmall(t *testing.T) {
	data := encodePNG(t, 40, 20)
	out, err := Fit(data, 64)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected input returned unchanged")
	}
}

func TestFitUndecodable(t *testing.T) {
	data := []byte("definitely not an image")
	out, err := Fit(data, 16)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected input returned unchanged")
	}
}

func TestFitDownscalesPNG(t *testing.T) {
	out, err := Fit(encodePNG(t, 200, 100), 50)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %s, want png", format)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Errorf("size = %dx%d, want 50x25", cfg.Width, cfg.Height)
	}
}

func TestFitDownscalesJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 300))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	out, err := Fit(buf.Bytes(), 60)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %s, want jpeg", format)
	}
	if cfg.Width > 60 || cfg.Height > 60 {
		t.Errorf("size = %dx%d exceeds 60", cfg.Width, cfg.Height)
	}
}
