// Package assembly turns captured page images into one PDF document and
// validates delivered documents.
package assembly

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // decoder registration
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrNoImages is returned when there is nothing to assemble.
	ErrNoImages = errors.New("assembly: no page images")
	// ErrPageMismatch is returned when the layered page set is incomplete.
	ErrPageMismatch = errors.New("assembly: page count mismatch")
	// ErrInvalidDocument is returned by Validate for unusable documents.
	ErrInvalidDocument = errors.New("assembly: invalid document")
)

// Assemble writes one PDF page per image into outputPath. Images are ordered
// by base name and each page is sized to its image's pixel dimensions in points.
func Assemble(imagePaths []string, outputPath string) error {
	if len(imagePaths) == 0 {
		return ErrNoImages
	}
	paths := append([]string(nil), imagePaths...)
	sort.Slice(paths, func(i, j int) bool { return filepath.Base(paths[i]) < filepath.Base(paths[j]) })

	var doc *gofpdf.Fpdf
	for _, p := range paths {
		w, h, kind, err := imageInfo(p)
		if err != nil {
			return err
		}
		size := gofpdf.SizeType{Wd: float64(w), Ht: float64(h)}
		if doc == nil {
			doc = gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: size})
			doc.SetMargins(0, 0, 0)
			doc.SetAutoPageBreak(false, 0)
		}
		doc.AddPageFormat("P", size)
		doc.ImageOptions(p, 0, 0, size.Wd, size.Ht, false, gofpdf.ImageOptions{ImageType: kind}, 0, "")
		if err := doc.Error(); err != nil {
			return fmt.Errorf("add %s: %w", filepath.Base(p), err)
		}
	}
	if err := doc.OutputFileAndClose(outputPath); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	return nil
}

func imageInfo(path string) (int, int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	switch format {
	case "jpeg":
		return cfg.Width, cfg.Height, "JPG", nil
	case "png":
		return cfg.Width, cfg.Height, "PNG", nil
	}
	return 0, 0, "", fmt.Errorf("%s: unsupported image format %q", filepath.Base(path), format)
}

// Composite lays fg over bg from the top-left corner, blending each pixel as
// bg*(1-alpha) + fg*alpha.
func Composite(bg, fg image.Image) *image.RGBA {
	bounds := bg.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), bg, bounds.Min, draw.Src)
	fb := fg.Bounds()
	area := image.Rect(0, 0, fb.Dx(), fb.Dy()).Intersect(out.Bounds())
	draw.Draw(out, area, fg, fb.Min, draw.Over)
	return out
}

// PageImages lists the .jpg, .jpeg and .png files in dir by name.
func PageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// BuildLayeredPages composites every {p}_bg.jpeg with {p}_fg.png found in
// srcDir into outDir/{p}.png. The number of distinct prefixes must equal
// expected. It returns the composited paths in page order.
func BuildLayeredPages(srcDir, outDir string, expected int) ([]string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", srcDir, err)
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		prefix, _, _ := strings.Cut(e.Name(), "_")
		seen[prefix] = struct{}{}
	}
	if len(seen) != expected {
		return nil, fmt.Errorf("%w: found %d pages, expected %d", ErrPageMismatch, len(seen), expected)
	}
	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		bg, err := decodeFile(filepath.Join(srcDir, p+"_bg.jpeg"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s background: %v", ErrPageMismatch, p, err)
		}
		fg, err := decodeFile(filepath.Join(srcDir, p+"_fg.png"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s foreground: %v", ErrPageMismatch, p, err)
		}
		dst := filepath.Join(outDir, p+".png")
		if err := encodePNG(dst, Composite(bg, fg)); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func encodePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Validate checks that path is a non-empty PDF with at least one page and
// returns its page count.
func Validate(path string) (pages int, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrInvalidDocument, filepath.Base(path))
	}
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: %s: parser panic: %v", ErrInvalidDocument, filepath.Base(path), r)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, filepath.Base(path), err)
	}
	defer f.Close()
	n := reader.NumPage()
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s has no pages", ErrInvalidDocument, filepath.Base(path))
	}
	return n, nil
}
