// Package imageformat classifies host files as convertible images or
// non-images, first by filename and then, when
// that is inconclusive or too expensive to skip, by content sniffing.
package imageformat

import "strings"

// Format is a closed enumeration of the raster formats this filesystem
// understands. Every format here is convertible, including Heic itself -
// an existing HEIC source is re-encoded with the currently configured
// parameters rather than passed through.
type Format int

// Recognized formats, in no particular order. Zero value is Unknown.
const (
	Unknown Format = iota
	Jpeg
	Png
	Gif
	Heic
	Webp
	Bmp
	Tiff
	// Generic marks a file that matched a configured filename_patterns
	// entry but carries none of the recognized extensions above - still
	// convertible, its concrete format is left for content sniffing to
	// resolve when the file is actually opened.
	Generic
)

// CandidateExtensions is the fixed resolution order the Name Mapper walks
// when a virtual "*.heic" path must be traced back to a real source file.
// Heic comes first so an existing ".heic" source wins over a same-named
// ".jpg"/".png" sibling and gets re-encoded with current parameters.
var CandidateExtensions = []string{"heic", "jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff"}

// Convertible reports whether f is one of the recognized raster formats.
func (f Format) Convertible() bool {
	return f != Unknown
}

// String returns the format's conventional lowercase name, e.g. "jpeg",
// "heic".
func (f Format) String() string {
	switch f {
	case Jpeg:
		return "jpeg"
	case Png:
		return "png"
	case Gif:
		return "gif"
	case Heic:
		return "heic"
	case Webp:
		return "webp"
	case Bmp:
		return "bmp"
	case Tiff:
		return "tiff"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// formatFromExtension maps a lowercase, dot-stripped file extension to a
// Format. Returns Unknown for anything not in the table.
func formatFromExtension(ext string) Format {
	switch ext {
	case "jpg", "jpeg":
		return Jpeg
	case "png":
		return Png
	case "gif":
		return Gif
	case "heic", "heif":
		return Heic
	case "webp":
		return Webp
	case "bmp":
		return Bmp
	case "tif", "tiff":
		return Tiff
	default:
		return Unknown
	}
}

// FromExtension classifies name by its extension alone. It never touches
// the filesystem and is the fast path used by the hot directory-listing
// code, where opening every entry to sniff it would be too expensive.
func FromExtension(name string) Format {
	ext := extOf(name)
	return formatFromExtension(ext)
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// formatFromMIME maps a sniffed MIME type string to a Format, covering
// image/{jpeg,png,gif,heic,webp,bmp,tiff}.
func formatFromMIME(mime string) Format {
	// mimetype.MIME.String() may carry a "; charset=..." suffix for text
	// types; images never do, but strip defensively all the same.
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "image/jpeg":
		return Jpeg
	case "image/png":
		return Png
	case "image/gif":
		return Gif
	case "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence":
		return Heic
	case "image/webp":
		return Webp
	case "image/bmp", "image/x-ms-bmp":
		return Bmp
	case "image/tiff":
		return Tiff
	default:
		return Unknown
	}
}
