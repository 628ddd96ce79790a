package yt

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"Resonate/song"

	"github.com/Strum355/log"
	"github.com/kkdai/youtube/v2"
)

// AudioInfo is the resolved per-track metadata plus the chosen audio stream.
type AudioInfo struct {
	AudioURL  string
	Thumbnail string
	Title     string
	Artist    string
	Duration  int
}

// trendingQueries simulates a trending endpoint YouTube does not expose for
// audio: one is picked at random and issued as a plain search.
var trendingQueries = []string{
	"top hits",
	"new music this week",
	"trending songs",
	"viral music",
	"pop hits",
	"top 50 global",
}

// Client wraps the extraction library. The library client is built lazily,
// once, with an injected proxy-routing transport; all failures are logged and
// degrade to nil/empty, matching the Piped client's contract.
type Client struct {
	mu    sync.Mutex
	inner *youtube.Client
	http  *http.Client
}

func NewClient(proxyURL string) *Client {
	return &Client{
		http: &http.Client{
			Transport: NewProxyTransport(proxyURL),
			Timeout:   30 * time.Second,
		},
	}
}

func (c *Client) extractor() *youtube.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		c.inner = &youtube.Client{HTTPClient: c.http}
	}
	return c.inner
}

// audioQualityRank orders the extraction library's audio quality tags; higher
// is better.
var audioQualityRank = map[string]int{
	"AUDIO_QUALITY_LOW":    1,
	"AUDIO_QUALITY_MEDIUM": 2,
	"AUDIO_QUALITY_HIGH":   3,
}

// bestAudioFormat scans formats for audio-tagged entries, ranks them by
// quality tier then bitrate, and falls back to the first format at all when
// nothing is audio-tagged.
func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	bestScore := -1
	for i := range formats {
		f := &formats[i]
		rank, tagged := audioQualityRank[f.AudioQuality]
		if !tagged {
			continue
		}
		score := rank*1_000_000 + f.Bitrate/1000
		if score > bestScore {
			best = f
			bestScore = score
		}
	}
	if best != nil {
		return best
	}
	if len(formats) > 0 {
		return &formats[0]
	}
	return nil
}

// AudioInfo resolves a video id to its best audio stream plus display
// metadata. A primary metadata accessor is tried first, then the watch-URL
// form, since the two paths fail independently upstream.
func (c *Client) AudioInfo(ctx context.Context, videoID string) *AudioInfo {
	if videoID == "" || song.IsPlaceholderID(videoID) {
		return nil
	}
	ex := c.extractor()

	video, err := ex.GetVideoContext(ctx, videoID)
	if err != nil {
		video, err = ex.GetVideoContext(ctx, "https://www.youtube.com/watch?v="+videoID)
	}
	if err != nil {
		log.WithFields(log.Fields{"videoID": videoID}).WithError(err).Debug("YouTube metadata lookup failed")
		return nil
	}

	format := bestAudioFormat(video.Formats)
	if format == nil {
		return nil
	}

	streamURL, err := ex.GetStreamURLContext(ctx, video, format)
	if err != nil || streamURL == "" {
		log.WithFields(log.Fields{"videoID": videoID}).WithError(err).Debug("YouTube stream URL resolution failed")
		return nil
	}

	info := &AudioInfo{
		AudioURL: streamURL,
		Title:    video.Title,
		Artist:   video.Author,
		Duration: int(video.Duration.Seconds()),
	}
	if len(video.Thumbnails) > 0 {
		info.Thumbnail = song.NormalizePic(video.Thumbnails[len(video.Thumbnails)-1].URL)
	}
	if info.Title == "" {
		info.Title = song.UnknownName
	}
	if info.Artist == "" {
		info.Artist = song.UnknownArtist
	}
	return info
}

// AudioURL resolves just the stream URL for a video id.
func (c *Client) AudioURL(ctx context.Context, videoID string) string {
	info := c.AudioInfo(ctx, videoID)
	if info == nil {
		return ""
	}
	return info.AudioURL
}

// TrendingAudio approximates a trending feed by searching a random curated
// query scoped to the given region.
func (c *Client) TrendingAudio(ctx context.Context, region string) []song.Song {
	query := trendingQueries[rand.Intn(len(trendingQueries))]
	return c.search(ctx, query, region)
}

// PlaylistInfo fetches a YouTube playlist with its tracks.
func (c *Client) PlaylistInfo(ctx context.Context, playlistID string) *PlaylistInfo {
	if playlistID == "" {
		return nil
	}
	ex := c.extractor()
	playlist, err := ex.GetPlaylistContext(ctx, playlistID)
	if err != nil {
		log.WithFields(log.Fields{"playlistID": playlistID}).WithError(err).Debug("YouTube playlist lookup failed")
		return nil
	}

	info := &PlaylistInfo{Name: playlist.Title}
	for _, entry := range playlist.Videos {
		s := song.New(entry.ID, song.SourceYouTube)
		s.VideoID = entry.ID
		s.Name = entry.Title
		s.Artist = entry.Author
		s.Duration = int(entry.Duration.Seconds())
		if len(entry.Thumbnails) > 0 {
			s.Pic = song.NormalizePic(entry.Thumbnails[len(entry.Thumbnails)-1].URL)
		}
		s.Normalize()
		info.Songs = append(info.Songs, s)
	}
	return info
}

// PlaylistInfo is a named batch of songs from a YouTube playlist.
type PlaylistInfo struct {
	Name  string
	Songs []song.Song
}
