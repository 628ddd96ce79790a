package song

import (
	"strings"

	"github.com/google/uuid"
)

// Source identifies which client resolves a song's stream URL and metadata.
type Source string

const (
	SourceYouTube Source = "youtube"
	SourcePiped   Source = "piped"
	SourceLegacy  Source = "legacy"
)

// Quality is a named playback bitrate preset the player can fall back between.
type Quality string

const (
	Quality320 Quality = "320k"
	Quality128 Quality = "128k"
)

// Lowest returns the bottom quality tier, the last resort before giving up.
func Lowest() Quality {
	return Quality128
}

const (
	placeholderPrefix = "temp_"

	UnknownName   = "Unknown Song"
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Song is the canonical track record shared by every source client.
// URL is resolved per play and expires upstream, so it is never persisted.
type Song struct {
	ID          string `json:"id"`
	Source      Source `json:"source"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Pic         string `json:"pic"`
	Duration    int    `json:"duration"`
	URL         string `json:"-"`
	VideoID     string `json:"videoId,omitempty"`
	UploaderURL string `json:"uploaderUrl,omitempty"`
	Uploaded    string `json:"uploaded,omitempty"`
	Views       int64  `json:"views,omitempty"`
	IsValidID   bool   `json:"isValidId"`
}

// New builds a Song with a real upstream identifier.
func New(id string, source Source) Song {
	return Song{ID: id, Source: source, IsValidID: true}
}

// Placeholder builds a Song for an item whose identifier could not be
// extracted. Its id must never reach a resolution backend.
func Placeholder(source Source) Song {
	return Song{
		ID:        placeholderPrefix + uuid.NewString(),
		Source:    source,
		IsValidID: false,
	}
}

// IsPlaceholderID reports whether id is a synthesized stand-in rather than an
// identifier extracted from an upstream payload.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// Key is the case-insensitive composite used to deduplicate aggregate search
// results across sources.
func (s Song) Key() string {
	return strings.ToLower(s.Name + "|" + s.Artist)
}

// Normalize fills display placeholders and forces the thumbnail onto https.
func (s *Song) Normalize() {
	if s.Name == "" {
		s.Name = UnknownName
	}
	if s.Artist == "" {
		s.Artist = UnknownArtist
	}
	if s.Album == "" {
		s.Album = UnknownAlbum
	}
	s.Pic = NormalizePic(s.Pic)
}

// NormalizePic rewrites protocol-relative and plain-http thumbnail URLs to https.
func NormalizePic(pic string) string {
	switch {
	case pic == "":
		return ""
	case strings.HasPrefix(pic, "//"):
		return "https:" + pic
	case strings.HasPrefix(pic, "http://"):
		return "https://" + strings.TrimPrefix(pic, "http://")
	default:
		return pic
	}
}
