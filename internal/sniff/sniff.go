// Package sniff decides whether uploaded bytes really are one of the
// accepted video containers. It trusts only the byte signature, never the
// client-declared content type or filename: the stored extension always
// comes from detection, so a renamed HTML file can never be persisted as
// "video.webm".
package sniff

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnsupported  = errors.New("unsupported content")
	ErrTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrDangerousExt = errors.New("declared extension is not allowed")
	ErrEmpty        = errors.New("empty upload")
)

// allowedVideo maps accepted detected MIME types to the stored extension.
// mov-family files detect as video/quicktime; they are stored as .mov.
var allowedVideo = map[string]string{
	"video/webm":      ".webm",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// dangerousExtensions are declared extensions refused outright, whatever
// the bytes look like. Markup formats can carry script when later served
// with a guessed content type.
var dangerousExtensions = map[string]bool{
	".html": true, ".htm": true, ".xhtml": true, ".svg": true,
	".xml": true, ".js": true, ".mjs": true, ".php": true,
	".exe": true, ".bat": true, ".cmd": true, ".sh": true,
	".hta": true, ".jar": true,
}

// Verdict is the outcome of a successful validation.
type Verdict struct {
	MIME      string // detected type, e.g. "video/webm"
	Extension string // storage extension derived from detection, e.g. ".webm"
	Size      int64  // actual byte count
}

// CheckDeclared rejects early, before any bytes are buffered, based on what
// the client claims: declared size over the ceiling or a dangerous
// extension on the declared filename.
func CheckDeclared(filename string, declaredSize, maxSize int64) error {
	if declaredSize > maxSize {
		return ErrTooLarge
	}
	ext := strings.ToLower(path.Ext(filename))
	if dangerousExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrDangerousExt, ext)
	}
	return nil
}

// Detect inspects raw bytes and returns a verdict. It is purely functional
// and safe for concurrent use; any binary-upload surface in the service
// goes through here.
func Detect(data []byte, maxSize int64) (*Verdict, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	mt := mimetype.Detect(data)
	for allowed, ext := range allowedVideo {
		if mt.Is(allowed) {
			return &Verdict{MIME: allowed, Extension: ext, Size: int64(len(data))}, nil
		}
	}
	return nil, fmt.Errorf("%w: detected %s", ErrUnsupported, mt.String())
}
