package piped

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"Resonate/song"

	"github.com/Strum355/log"
	"github.com/spf13/viper"
)

var (
	errNoInstances  = errors.New("piped: no healthy instances")
	errRedirect     = errors.New("piped: instance redirected")
	errNotJSON      = errors.New("piped: instance served non-JSON")
	errBadStatus    = errors.New("piped: instance returned non-2xx status")
	errAllExhausted = errors.New("piped: all healthy instances failed")
)

// Client talks to a pool of public Piped mirrors, routing every request over
// the currently healthy subset in rotation order. It never returns transport
// or shape errors to callers; everything degrades to nil/empty.
type Client struct {
	http     *http.Client
	proxyURL string
	timeout  time.Duration
	health   *HealthTracker

	mu        sync.Mutex
	instances []string
}

func NewClient(instances []string, health *HealthTracker) *Client {
	timeout := time.Duration(viper.GetInt("piped.timeout")) * time.Second
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		http: &http.Client{
			// Dead mirrors love redirecting to parked domains. A 3xx is a
			// broken instance, never a path to follow.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		proxyURL:  viper.GetString("proxy.url"),
		timeout:   timeout,
		health:    health,
		instances: instances,
	}
}

// pool snapshots the instance list. RefreshInstances may swap it from another
// goroutine, so every read goes through here.
func (c *Client) pool() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances
}

// Available reports whether at least one instance is currently eligible, so
// the UI can disable the source pre-emptively instead of failing every action.
func (c *Client) Available() bool {
	return len(c.health.Healthy(c.pool())) > 0
}

// RefreshInstances replaces the pool from the public instance list. The
// existing pool is kept on any failure.
func (c *Client) RefreshInstances(ctx context.Context) {
	listURL := viper.GetString("piped.instance_list_url")
	if listURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Error("Failed to fetch Piped instance list")
		return
	}
	defer resp.Body.Close()

	var entries []struct {
		Name   string `json:"name"`
		APIURL string `json:"api_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		log.WithError(err).Error("Failed to decode Piped instance list")
		return
	}

	fresh := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.APIURL != "" {
			fresh = append(fresh, strings.TrimSuffix(e.APIURL, "/"))
		}
	}
	if len(fresh) > 0 {
		c.mu.Lock()
		c.instances = fresh
		c.mu.Unlock()
		c.health.SetCursor(0)
	}
}

// fetch runs the failover loop for one endpoint: healthy subset, cursor start,
// one attempt per instance, first well-typed 2xx JSON wins.
func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	instances := c.pool()
	healthy := c.health.Healthy(instances)
	if len(healthy) == 0 {
		return nil, errNoInstances
	}

	cursor := c.health.Cursor()
	if cursor >= len(instances) {
		cursor = 0
	}

	// Map the cursor into the healthy subset, falling back to its head when
	// the cursor's instance is benched.
	start := 0
	for i, inst := range healthy {
		if inst == instances[cursor] {
			start = i
			break
		}
	}

	for k := range healthy {
		inst := healthy[(start+k)%len(healthy)]
		body, err := c.attempt(ctx, inst, path, query)
		if err != nil {
			log.WithFields(log.Fields{"instance": inst, "path": path}).
				WithError(err).Debug("Piped instance failed, marking broken")
			c.health.MarkBroken(inst)
			continue
		}
		c.health.SetCursor((indexOf(instances, inst) + 1) % len(instances))
		return body, nil
	}

	// A fully failed round still advances the cursor so the next call does
	// not retry the same order.
	c.health.SetCursor((cursor + 1) % len(instances))
	return nil, errAllExhausted
}

func indexOf(instances []string, inst string) int {
	for i, candidate := range instances {
		if candidate == inst {
			return i
		}
	}
	return 0
}

func (c *Client) attempt(ctx context.Context, instance, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := instance + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	if c.proxyURL != "" {
		target = c.proxyURL + "?url=" + url.QueryEscape(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, errRedirect
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return nil, fmt.Errorf("%w: %q", errNotJSON, ct)
	}

	return io.ReadAll(resp.Body)
}

type streamItem struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Thumbnail    string `json:"thumbnail"`
	UploaderName string `json:"uploaderName"`
	UploaderURL  string `json:"uploaderUrl"`
	UploadedDate string `json:"uploadedDate"`
	Duration     int    `json:"duration"`
	Views        int64  `json:"views"`
}

func songFromItem(item streamItem) song.Song {
	s := song.Placeholder(song.SourcePiped)
	if u, err := url.Parse(item.URL); err == nil {
		if id := u.Query().Get("v"); id != "" {
			s = song.New(id, song.SourcePiped)
			s.VideoID = id
		}
	}
	s.Name = item.Title
	s.Artist = item.UploaderName
	s.Pic = item.Thumbnail
	s.Duration = item.Duration
	s.UploaderURL = item.UploaderURL
	s.Uploaded = item.UploadedDate
	s.Views = item.Views
	s.Normalize()
	return s
}

// Search queries the music_songs filter across the instance pool.
func (c *Client) Search(ctx context.Context, query string) []song.Song {
	body, err := c.fetch(ctx, "/search", url.Values{"q": {query}, "filter": {"music_songs"}})
	if err != nil {
		return nil
	}
	var payload struct {
		Items []streamItem `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.WithError(err).Debug("Piped search payload did not parse")
		return nil
	}
	songs := make([]song.Song, 0, len(payload.Items))
	for _, item := range payload.Items {
		songs = append(songs, songFromItem(item))
	}
	return songs
}

// StreamInfo is the resolved per-track metadata plus the best audio stream.
type StreamInfo struct {
	AudioURL  string
	Thumbnail string
	Title     string
	Artist    string
	Duration  int
}

// StreamInfo resolves a video id to its best (highest bitrate) audio stream.
func (c *Client) StreamInfo(ctx context.Context, videoID string) *StreamInfo {
	if song.IsPlaceholderID(videoID) || videoID == "" {
		return nil
	}
	body, err := c.fetch(ctx, "/streams/"+url.PathEscape(videoID), nil)
	if err != nil {
		return nil
	}

	var payload struct {
		Title        string `json:"title"`
		Uploader     string `json:"uploader"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Duration     int    `json:"duration"`
		AudioStreams []struct {
			URL     string `json:"url"`
			Bitrate int    `json:"bitrate"`
		} `json:"audioStreams"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.WithError(err).Debug("Piped stream payload did not parse")
		return nil
	}
	if len(payload.AudioStreams) == 0 {
		return nil
	}

	sort.Slice(payload.AudioStreams, func(i, j int) bool {
		return payload.AudioStreams[i].Bitrate > payload.AudioStreams[j].Bitrate
	})

	info := &StreamInfo{
		AudioURL:  payload.AudioStreams[0].URL,
		Thumbnail: song.NormalizePic(payload.ThumbnailURL),
		Title:     payload.Title,
		Artist:    payload.Uploader,
		Duration:  payload.Duration,
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
	info := c.StreamInfo(ctx, videoID)
	if info == nil {
		return ""
	}
	return info.AudioURL
}

// Related returns suggested tracks for a video id.
func (c *Client) Related(ctx context.Context, videoID string) []song.Song {
	if song.IsPlaceholderID(videoID) || videoID == "" {
		return nil
	}
	body, err := c.fetch(ctx, "/streams/"+url.PathEscape(videoID)+"/suggestions", nil)
	if err != nil {
		return nil
	}
	var items []streamItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil
	}
	songs := make([]song.Song, 0, len(items))
	for _, item := range items {
		songs = append(songs, songFromItem(item))
	}
	return songs
}

// PlaylistDetail is a named batch of songs, shared by playlists and channels.
type PlaylistDetail struct {
	Name  string
	Songs []song.Song
}

func (c *Client) collection(ctx context.Context, path string) *PlaylistDetail {
	body, err := c.fetch(ctx, path, nil)
	if err != nil {
		return nil
	}
	var payload struct {
		Name           string       `json:"name"`
		RelatedStreams []streamItem `json:"relatedStreams"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	detail := &PlaylistDetail{Name: payload.Name}
	for _, item := range payload.RelatedStreams {
		detail.Songs = append(detail.Songs, songFromItem(item))
	}
	return detail
}

// Playlist fetches a Piped playlist with its tracks.
func (c *Client) Playlist(ctx context.Context, playlistID string) *PlaylistDetail {
	if playlistID == "" {
		return nil
	}
	return c.collection(ctx, "/playlists/"+url.PathEscape(playlistID))
}

// Channel fetches an uploader channel with its tracks.
func (c *Client) Channel(ctx context.Context, channelID string) *PlaylistDetail {
	if channelID == "" {
		return nil
	}
	return c.collection(ctx, "/channels/"+url.PathEscape(channelID))
}
