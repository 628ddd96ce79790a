package aggregator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"Resonate/piped"
	"Resonate/song"
	"Resonate/yt"

	"github.com/Strum355/log"
	"github.com/karlseguin/ccache/v3"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// maxAggregateResults caps a merged aggregate search.
const maxAggregateResults = 50

// YouTubeSource is the slice of the YouTube client the aggregator consumes.
type YouTubeSource interface {
	SearchAudio(ctx context.Context, query string, page int) []song.Song
	AudioInfo(ctx context.Context, videoID string) *yt.AudioInfo
	AudioURL(ctx context.Context, videoID string) string
	TrendingAudio(ctx context.Context, region string) []song.Song
	RelatedAudio(ctx context.Context, videoID string) []song.Song
	PlaylistInfo(ctx context.Context, playlistID string) *yt.PlaylistInfo
}

// PipedSource is the slice of the Piped client the aggregator consumes.
type PipedSource interface {
	Search(ctx context.Context, query string) []song.Song
	StreamInfo(ctx context.Context, videoID string) *piped.StreamInfo
	AudioURL(ctx context.Context, videoID string) string
	Related(ctx context.Context, videoID string) []song.Song
	Playlist(ctx context.Context, playlistID string) *piped.PlaylistDetail
	Channel(ctx context.Context, channelID string) *piped.PlaylistDetail
	Available() bool
}

// TrackInfo is resolved playback metadata, source-independent.
type TrackInfo struct {
	AudioURL  string
	Thumbnail string
	Title     string
	Artist    string
	Duration  int
}

// PlaylistDetail is a resolved playlist, source-independent.
type PlaylistDetail struct {
	Name  string
	Songs []song.Song
}

// Aggregator fans search out to both sources and dispatches per-song
// operations by source tag, with a legacy fallback tier for anything outside
// {youtube, piped}.
type Aggregator struct {
	yt     YouTubeSource
	piped  PipedSource
	legacy *LegacyExecutor

	parseMux  sync.Mutex
	parseMemo *ccache.Cache[*song.Song]
	parseTTL  time.Duration
}

func New(ytClient YouTubeSource, pipedClient PipedSource, legacy *LegacyExecutor) *Aggregator {
	ttl := time.Duration(viper.GetInt("cache.parse")) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Aggregator{
		yt:     ytClient,
		piped:  pipedClient,
		legacy: legacy,
		parseMemo: ccache.New(
			ccache.Configure[*song.Song]().
				MaxSize(500).
				GetsPerPromote(3).
				ItemsToPrune(10),
		),
		parseTTL: ttl,
	}
}

// SearchSongs dispatches a search to exactly one source.
func (a *Aggregator) SearchSongs(ctx context.Context, keyword, platform string, page int) []song.Song {
	switch song.Source(platform) {
	case song.SourceYouTube:
		return a.yt.SearchAudio(ctx, keyword, page)
	case song.SourcePiped:
		return a.piped.Search(ctx, keyword)
	default:
		return a.legacySearch(ctx, keyword, platform, page)
	}
}

// SearchAggregate queries both sources concurrently, merges YouTube-first,
// deduplicates by the case-insensitive name|artist key, and caps the result.
// Either branch may come back empty without failing the other.
func (a *Aggregator) SearchAggregate(ctx context.Context, keyword string, page int) []song.Song {
	var ytSongs, pipedSongs []song.Song

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ytSongs = a.yt.SearchAudio(gctx, keyword, page)
		return nil
	})
	g.Go(func() error {
		pipedSongs = a.piped.Search(gctx, keyword)
		return nil
	})
	g.Wait()

	merged := lo.UniqBy(append(ytSongs, pipedSongs...), func(s song.Song) string {
		return s.Key()
	})
	if len(merged) > maxAggregateResults {
		merged = merged[:maxAggregateResults]
	}
	return merged
}

// SongInfo resolves display metadata plus the best audio stream for a song.
func (a *Aggregator) SongInfo(ctx context.Context, s song.Song) *TrackInfo {
	if !s.IsValidID || song.IsPlaceholderID(s.ID) {
		return nil
	}
	switch s.Source {
	case song.SourcePiped:
		if info := a.piped.StreamInfo(ctx, s.ID); info != nil {
			return &TrackInfo{
				AudioURL:  info.AudioURL,
				Thumbnail: info.Thumbnail,
				Title:     info.Title,
				Artist:    info.Artist,
				Duration:  info.Duration,
			}
		}
		return nil
	case song.SourceYouTube:
		if info := a.yt.AudioInfo(ctx, s.ID); info != nil {
			return &TrackInfo{
				AudioURL:  info.AudioURL,
				Thumbnail: info.Thumbnail,
				Title:     info.Title,
				Artist:    info.Artist,
				Duration:  info.Duration,
			}
		}
		// YouTube extraction breaks often enough that Piped doubles as its
		// safety net for the same video id.
		if info := a.piped.StreamInfo(ctx, s.ID); info != nil {
			return &TrackInfo{
				AudioURL:  info.AudioURL,
				Thumbnail: info.Thumbnail,
				Title:     info.Title,
				Artist:    info.Artist,
				Duration:  info.Duration,
			}
		}
		return nil
	default:
		return a.legacySongInfo(ctx, s)
	}
}

// SongURL resolves a playable stream URL. Piped-native songs resolve through
// Piped only; YouTube songs fall back to Piped when extraction yields nothing.
func (a *Aggregator) SongURL(ctx context.Context, s song.Song) string {
	if !s.IsValidID || song.IsPlaceholderID(s.ID) {
		return ""
	}
	switch s.Source {
	case song.SourcePiped:
		return a.piped.AudioURL(ctx, s.ID)
	case song.SourceYouTube:
		if u := a.yt.AudioURL(ctx, s.ID); u != "" {
			return u
		}
		return a.piped.AudioURL(ctx, s.ID)
	default:
		if parsed := a.ParseSongFull(ctx, s.ID); parsed != nil {
			return parsed.URL
		}
		return ""
	}
}

// Related returns suggestions for a song, dispatched by source.
func (a *Aggregator) Related(ctx context.Context, s song.Song) []song.Song {
	if !s.IsValidID {
		return nil
	}
	switch s.Source {
	case song.SourcePiped:
		return a.piped.Related(ctx, s.ID)
	case song.SourceYouTube:
		if related := a.yt.RelatedAudio(ctx, s.ID); len(related) > 0 {
			return related
		}
		return a.piped.Related(ctx, s.ID)
	default:
		return nil
	}
}

// Lyrics are always empty for the two primary sources; neither exposes them.
func (a *Aggregator) Lyrics(ctx context.Context, s song.Song) string {
	switch s.Source {
	case song.SourceYouTube, song.SourcePiped:
		return ""
	default:
		return a.legacyLyrics(ctx, s)
	}
}

// TopList is one entry of the curated charts the UI can open.
type TopList struct {
	ID     string
	Name   string
	Region string
}

// TopLists returns the fixed chart set. There is no native charts endpoint on
// either source, so these map onto regional trending searches.
func (a *Aggregator) TopLists(ctx context.Context) []TopList {
	return []TopList{
		{ID: "global", Name: "Top 50 Global", Region: ""},
		{ID: "us", Name: "Top 50 US", Region: "US"},
		{ID: "gb", Name: "Top 50 UK", Region: "GB"},
		{ID: "de", Name: "Top 50 Germany", Region: "DE"},
		{ID: "jp", Name: "Top 50 Japan", Region: "JP"},
	}
}

// TopListDetail resolves a chart id into songs, falling back to a Piped
// search when YouTube trending comes back empty.
func (a *Aggregator) TopListDetail(ctx context.Context, listID string) []song.Song {
	region := ""
	for _, tl := range a.TopLists(ctx) {
		if tl.ID == listID {
			region = tl.Region
			break
		}
	}
	if songs := a.yt.TrendingAudio(ctx, region); len(songs) > 0 {
		return songs
	}
	return a.piped.Search(ctx, "top hits")
}

// Piped playlist ids are long opaque tokens or carry Music prefixes; YouTube
// ids are PL-prefixed or at least channel-length.
var pipedIDPrefixes = []string{"VL", "RDAMVM", "OLAK"}

func looksLikePipedID(id string) bool {
	if len(id) >= 30 && isURLSafe(id) {
		return true
	}
	for _, prefix := range pipedIDPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func isURLSafe(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// PlaylistDetail disambiguates a playlist id across sources, preferring the
// explicit platform tag, then id shape, then the legacy tier.
func (a *Aggregator) PlaylistDetail(ctx context.Context, platform, id string) *PlaylistDetail {
	if platform == string(song.SourcePiped) || looksLikePipedID(id) {
		if detail := a.piped.Playlist(ctx, id); detail != nil {
			return &PlaylistDetail{Name: detail.Name, Songs: detail.Songs}
		}
		return nil
	}
	if platform == string(song.SourceYouTube) || strings.HasPrefix(id, "PL") || len(id) > 20 {
		if info := a.yt.PlaylistInfo(ctx, id); info != nil {
			return &PlaylistDetail{Name: info.Name, Songs: info.Songs}
		}
		return nil
	}
	return a.legacyPlaylistDetail(ctx, platform, id)
}

// ParseSongFull runs the legacy full-parse for platforms outside the two
// primary sources, memoized for a short window since parses are expensive and
// the UI re-asks aggressively.
func (a *Aggregator) ParseSongFull(ctx context.Context, id string) *song.Song {
	if id == "" || song.IsPlaceholderID(id) {
		return nil
	}
	if a.legacy == nil {
		return nil
	}

	a.parseMux.Lock()
	item, err := a.parseMemo.Fetch(id, a.parseTTL, func() (*song.Song, error) {
		return a.legacyParse(ctx, id)
	})
	a.parseMux.Unlock()

	if err != nil || item == nil {
		return nil
	}
	return item.Value()
}

func (a *Aggregator) legacySearch(ctx context.Context, keyword, platform string, page int) []song.Song {
	if a.legacy == nil {
		return nil
	}
	raw, err := a.legacy.Execute(ctx, "search", map[string]string{
		"keyword":  keyword,
		"platform": platform,
		"page":     strconv.Itoa(page),
	})
	if err != nil {
		log.WithFields(log.Fields{"platform": platform}).WithError(err).Debug("Legacy search failed")
		return nil
	}
	return SongsFromLegacy(raw)
}

func (a *Aggregator) legacySongInfo(ctx context.Context, s song.Song) *TrackInfo {
	if a.legacy == nil {
		return nil
	}
	raw, err := a.legacy.Execute(ctx, "songInfo", map[string]string{"id": s.ID})
	if err != nil {
		return nil
	}
	parsed := SongFromLegacy(raw)
	return &TrackInfo{
		AudioURL:  parsed.URL,
		Thumbnail: parsed.Pic,
		Title:     parsed.Name,
		Artist:    parsed.Artist,
		Duration:  parsed.Duration,
	}
}

func (a *Aggregator) legacyLyrics(ctx context.Context, s song.Song) string {
	if a.legacy == nil {
		return ""
	}
	raw, err := a.legacy.Execute(ctx, "lyrics", map[string]string{"id": s.ID})
	if err != nil {
		return ""
	}
	return raw.Get("lyric").String()
}

func (a *Aggregator) legacyPlaylistDetail(ctx context.Context, platform, id string) *PlaylistDetail {
	if a.legacy == nil {
		return nil
	}
	raw, err := a.legacy.Execute(ctx, "playlistDetail", map[string]string{
		"platform": platform,
		"id":       id,
	})
	if err != nil {
		return nil
	}
	return &PlaylistDetail{
		Name:  raw.Get("name").String(),
		Songs: SongsFromLegacy(raw),
	}
}

func (a *Aggregator) legacyParse(ctx context.Context, id string) (*song.Song, error) {
	raw, err := a.legacy.Execute(ctx, "parseSong", map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	parsed := SongFromLegacy(raw)
	return &parsed, nil
}
