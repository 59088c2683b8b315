package annotation

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/go-git/go-billy/v6/memfs"
)

func TestExtractMetadata(t *testing.T) {
	fs := memfs.New()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil); err != nil {
		t.Fatal(err)
	}
	f, err := fs.Create("frame.jpeg")
	if err != nil {
		t.Fatal(err)
	}
	f.Write(buf.Bytes())
	f.Close()

	meta, err := ExtractMetadata(fs, "frame.jpeg")
	if err != nil {
		t.Fatalf("ExtractMetadata() error = %v", err)
	}
	want := ImageMetadata{Width: 64, Height: 48, Format: "jpg", FileSize: int64(buf.Len())}
	if *meta != want {
		t.Errorf("ExtractMetadata() = %+v, want %+v", *meta, want)
	}

	hash, err := HashFile(fs, "frame.jpeg")
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	again, _ := HashReader(bytes.NewReader(buf.Bytes()))
	if hash != again || len(hash) != 64 {
		t.Errorf("HashFile() = %s, HashReader() = %s", hash, again)
	}
}

func TestMetadataFromBytes(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 7)))
	meta, err := MetadataFromBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("MetadataFromBytes() error = %v", err)
	}
	if meta.Format != "png" || meta.Width != 3 || meta.Height != 7 {
		t.Errorf("MetadataFromBytes() = %+v", meta)
	}

	if _, err := MetadataFromBytes([]byte("not an image")); err == nil {
		t.Error("expected an error for garbage input")
	}
}

func TestMIMEType(t *testing.T) {
	for in, want := range map[string]string{
		"jpg": "image/jpeg", ".JPEG": "image/jpeg", "png": "image/png", ".tif": "image/tiff", "heic": "application/octet-stream",
	} {
		if got := MIMEType(in); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", in, got, want)
		}
	}
}
