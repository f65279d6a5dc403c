package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".gif":  "image/gif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ContentType guesses an image content type from the file extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// AllowedFormat reports whether the extension of name is in formats.
// formats are expected lower case with a leading dot.
func AllowedFormat(name string, formats []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, f := range formats {
		if ext == f {
			return true
		}
	}
	return false
}

// DecodableFormats keeps the formats imaging can both open and save.
func DecodableFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if _, err := imaging.FormatFromFilename("image" + f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	return destFile.Close()
}
