package domain

import (
	"path"
	"slices"
	"strings"
)

// AllowedFileTypes lists the accepted image suffixes.
var AllowedFileTypes = []string{"jpg", "jpeg", "png", "webp"}

// IsAllowedFileType reports whether ft is in AllowedFileTypes.
func IsAllowedFileType(ft string) bool {
	return slices.Contains(AllowedFileTypes, ft)
}

// FileTypeFromFilename returns the lower-cased suffix of filename, or an
// *UnsupportedFormatError when it is not allowed.
func FileTypeFromFilename(filename string) (string, error) {
	ft := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if !IsAllowedFileType(ft) {
		return "", &UnsupportedFormatError{
			Attempted: ft,
			Allowed:   slices.Clone(AllowedFileTypes),
		}
	}
	return ft, nil
}

// ContentType returns the MIME type served for a file type.
func ContentType(fileType string) string {
	switch fileType {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
