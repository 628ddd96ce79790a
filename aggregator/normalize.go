package aggregator

import (
	"Resonate/song"

	"github.com/tidwall/gjson"
)

// Ordered extraction rules for the heterogeneous legacy payload shapes.
// Each field tries its candidate paths in priority order and takes the first
// hit; this replaces the old duck-typed field guessing with explicit lists.
var (
	legacyIDPaths       = []string{"id", "songid", "songId", "rid", "mid", "songmid", "musicId"}
	legacyNamePaths     = []string{"name", "title", "songname", "song_name"}
	legacyArtistPaths   = []string{"artist", "singer", "author", "artists.0.name", "singers.0.name", "ar.0.name"}
	legacyAlbumPaths    = []string{"album", "albumname", "al.name", "album.name"}
	legacyPicPaths      = []string{"pic", "img", "cover", "image", "pic_url", "coverImgUrl", "al.picUrl", "album.picUrl"}
	legacyURLPaths      = []string{"url", "src", "playUrl", "data.url"}
	legacyDurationPaths = []string{"duration", "interval", "dt", "length"}
	legacyListPaths     = []string{"songs", "list", "abslist", "data.songs", "result.songs", "data.list", "data"}
)

func firstString(raw gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := raw.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// SongFromLegacy maps one legacy payload onto the canonical song shape. A
// payload with no extractable identifier yields a placeholder that resolvers
// refuse to send upstream.
func SongFromLegacy(raw gjson.Result) song.Song {
	s := song.Placeholder(song.SourceLegacy)
	if id := firstString(raw, legacyIDPaths); id != "" {
		s = song.New(id, song.SourceLegacy)
	}
	s.Name = firstString(raw, legacyNamePaths)
	s.Artist = firstString(raw, legacyArtistPaths)
	s.Album = firstString(raw, legacyAlbumPaths)
	s.Pic = firstString(raw, legacyPicPaths)
	s.URL = firstString(raw, legacyURLPaths)
	s.Duration = legacyDuration(raw)
	s.Normalize()
	return s
}

// legacyDuration handles both second and millisecond encodings; anything over
// ten thousand is read as milliseconds.
func legacyDuration(raw gjson.Result) int {
	for _, path := range legacyDurationPaths {
		v := raw.Get(path)
		if !v.Exists() || v.Int() <= 0 {
			continue
		}
		n := v.Int()
		if n > 10000 {
			return int(n / 1000)
		}
		return int(n)
	}
	return 0
}

// SongsFromLegacy finds the first array-of-songs shape in a legacy payload.
func SongsFromLegacy(raw gjson.Result) []song.Song {
	for _, path := range legacyListPaths {
		list := raw.Get(path)
		if !list.Exists() || !list.IsArray() {
			continue
		}
		items := list.Array()
		songs := make([]song.Song, 0, len(items))
		for _, item := range items {
			songs = append(songs, SongFromLegacy(item))
		}
		return songs
	}
	if raw.IsArray() {
		items := raw.Array()
		songs := make([]song.Song, 0, len(items))
		for _, item := range items {
			songs = append(songs, SongFromLegacy(item))
		}
		return songs
	}
	return nil
}

// FindPic scans a raw payload for any usable cover art URL.
func FindPic(raw gjson.Result) string {
	if pic := firstString(raw, legacyPicPaths); pic != "" {
		return song.NormalizePic(pic)
	}
	return ""
}
