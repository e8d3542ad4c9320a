package imageformat

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit is the number of leading bytes sniffed for content detection.
const sniffLimit = 512

// DefaultFilenamePatterns is used when the configuration supplies none.
var DefaultFilenamePatterns = []string{`.*\.(jpg|jpeg|png|gif|heic)$`}

// Detector performs two-stage classification: a filename-pattern fast
// path, then content sniffing of the first 512 bytes. Either stage
// reporting "image" is enough.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles patterns. An empty slice falls back to
// DefaultFilenamePatterns.
func NewDetector(patterns []string) (*Detector, error) {
	if len(patterns) == 0 {
		patterns = DefaultFilenamePatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("imageformat: bad filename pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Detector{patterns: compiled}, nil
}

// MatchesFilenamePattern reports whether name matches any configured
// filename regex, independent of its actual extension.
func (d *Detector) MatchesFilenamePattern(name string) bool {
	for _, re := range d.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// FromExtension is the detector's hot-path classification, used by
// directory listing where opening every file to sniff it would be too
// costly. It reports a format whenever either the extension is recognized
// or the filename matches a configured pattern: a pattern match on a
// non-standard extension reports Generic rather than Unknown, since the
// extension alone already failed to name a concrete format.
func (d *Detector) FromExtension(name string) Format {
	if f := FromExtension(name); f.Convertible() {
		return f
	}
	if d.MatchesFilenamePattern(name) {
		return Generic
	}
	return Unknown
}

// Classify applies both detection stages against an existing host file:
// filename first, then content sniffing of the first 512 bytes. Returns
// Unknown, not an error, when the file exists but is not a recognized
// image - only I/O failures are reported as errors.
func (d *Detector) Classify(hostPath string) (Format, error) {
	if f := d.FromExtension(hostPath); f.Convertible() {
		return f, nil
	}

	f, err := d.sniff(hostPath)
	if err != nil {
		return Unknown, err
	}
	return f, nil
}

// IsImage is a convenience wrapper around Classify for call sites that only
// care about the yes/no answer.
func (d *Detector) IsImage(hostPath string) (bool, error) {
	f, err := d.Classify(hostPath)
	if err != nil {
		return false, err
	}
	return f.Convertible(), nil
}

func (d *Detector) sniff(hostPath string) (Format, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()

	buf := make([]byte, sniffLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Unknown, err
	}

	mt := mimetype.Detect(buf[:n])
	return formatFromMIME(mt.String()), nil
}
