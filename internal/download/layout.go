package download

import (
	"path/filepath"
	"strings"
)

// Layout derives deterministic local paths for a track's media:
// <root>/<category>/<id><ext>
type Layout struct {
	Root     string
	AudioExt string
	ImageExt string
}

// NewLayout creates a layout rooted at root
func NewLayout(root, audioExt, imageExt string) Layout {
	if audioExt == "" {
		audioExt = ".mp3"
	}
	if imageExt == "" {
		imageExt = ".jpg"
	}
	return Layout{Root: root, AudioExt: audioExt, ImageExt: imageExt}
}

// AudioPath returns where the audio for (category, id) lives
func (l Layout) AudioPath(category, id string) string {
	return filepath.Join(l.Root, sanitizeSegment(category), sanitizeSegment(id)+l.AudioExt)
}

// ImagePath returns where the artwork for (category, id) lives
func (l Layout) ImagePath(category, id string) string {
	return filepath.Join(l.Root, sanitizeSegment(category), sanitizeSegment(id)+l.ImageExt)
}

var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// ValidSegment reports whether s is used unchanged as a path element, so
// that distinct ids never share a file.
func ValidSegment(s string) bool {
	return s != "" && sanitizeSegment(s) == s
}

// sanitizeSegment makes s safe to use as a single path element
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, unsafeChars.Replace(strings.TrimSpace(s)))

	switch s {
	case "", ".", "..":
		return "_" + s
	}
	return s
}
