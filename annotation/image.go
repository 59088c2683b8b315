package annotation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/go-git/go-billy/v6"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageMetadata is the authoritative description of an image handed to the model.
type ImageMetadata struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	FileSize int64  `json:"file_size"`
}

// DecodeMetadata reads only the image header from r.
func DecodeMetadata(r io.Reader, size int64) (*ImageMetadata, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("while decoding image header: %w", err)
	}
	return &ImageMetadata{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   NormalizeFormat(format),
		FileSize: size,
	}, nil
}

func MetadataFromBytes(data []byte) (*ImageMetadata, error) {
	return DecodeMetadata(bytes.NewReader(data), int64(len(data)))
}

// ExtractMetadata opens filename from fs and returns its metadata.
func ExtractMetadata(fs billy.Basic, filename string) (*ImageMetadata, error) {
	info, err := fs.Stat(filename)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeMetadata(f, info.Size())
}

// NormalizeFormat lowercases a format name and spells jpeg as jpg.
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// MIMEType maps a normalized format or file extension to its content type.
func MIMEType(format string) string {
	switch NormalizeFormat(format) {
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
