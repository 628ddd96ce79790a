package yt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recordingTransport struct {
	requests []*http.Request
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req)
	resp := httptest.NewRecorder()
	resp.WriteString("{}")
	return resp.Result(), nil
}

func TestProxyTransport_RewritesMediaHosts(t *testing.T) {
	rec := &recordingTransport{}
	pt := &ProxyTransport{Base: rec, ProxyURL: "https://edge.example/api/cors-proxy"}

	req, _ := http.NewRequest(http.MethodGet, "https://www.youtube.com/youtubei/v1/search", nil)
	_, err := pt.RoundTrip(req)
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	sent := rec.requests[0]
	assert.Equal(t, "edge.example", sent.URL.Host)
	assert.Equal(t, "https://www.youtube.com/youtubei/v1/search", sent.URL.Query().Get("url"))
}

func TestProxyTransport_PassesOtherHostsThrough(t *testing.T) {
	rec := &recordingTransport{}
	pt := &ProxyTransport{Base: rec, ProxyURL: "https://edge.example/api/cors-proxy"}

	req, _ := http.NewRequest(http.MethodGet, "https://example.org/feed", nil)
	_, err := pt.RoundTrip(req)
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "example.org", rec.requests[0].URL.Host)
}

func TestProxyTransport_NoProxyConfigured(t *testing.T) {
	rec := &recordingTransport{}
	pt := &ProxyTransport{Base: rec, ProxyURL: ""}

	req, _ := http.NewRequest(http.MethodGet, "https://www.youtube.com/watch", nil)
	_, err := pt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, "www.youtube.com", rec.requests[0].URL.Host)
}

func TestIsMediaHost(t *testing.T) {
	assert.True(t, isMediaHost("www.youtube.com"))
	assert.True(t, isMediaHost("rr3---sn-xyz.googlevideo.com"))
	assert.True(t, isMediaHost("i.ytimg.com:443"))
	assert.False(t, isMediaHost("example.org"))
	assert.False(t, isMediaHost("notyoutube.com.evil.org"))
	// IPv6 literals must not be truncated at the first colon.
	assert.False(t, isMediaHost("[::1]:8080"))
	assert.False(t, isMediaHost("[2001:db8::1]"))
}

func TestSearchAudio_ParsesRenderers(t *testing.T) {
	body := `{"contents":{"twoColumnSearchResultsRenderer":{"primaryContents":{"sectionListRenderer":{"contents":[
		{"itemSectionRenderer":{"contents":[
			{"videoRenderer":{
				"videoId":"abc123",
				"title":{"runs":[{"text":"Track One"}]},
				"ownerText":{"runs":[{"text":"Artist One"}]},
				"thumbnail":{"thumbnails":[{"url":"http://i.ytimg.com/small.jpg"},{"url":"http://i.ytimg.com/big.jpg"}]},
				"lengthText":{"simpleText":"3:45"},
				"viewCountText":{"simpleText":"1,234,567 views"}
			}},
			{"channelRenderer":{"channelId":"ignored"}}
		]}}
	]}}}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The proxy receives the InnerTube call with the target in ?url=.
		target, _ := url.QueryUnescape(r.URL.Query().Get("url"))
		assert.Contains(t, target, "youtubei/v1/search")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	songs := c.SearchAudio(context.Background(), "track", 1)

	require.Len(t, songs, 1)
	assert.Equal(t, "abc123", songs[0].ID)
	assert.True(t, songs[0].IsValidID)
	assert.Equal(t, "Track One", songs[0].Name)
	assert.Equal(t, "Artist One", songs[0].Artist)
	assert.Equal(t, "https://i.ytimg.com/big.jpg", songs[0].Pic)
	assert.Equal(t, 225, songs[0].Duration)
	assert.Equal(t, int64(1234567), songs[0].Views)
}

func TestSearchAudio_PageBeyondFirstIsEmpty(t *testing.T) {
	c := NewClient("")
	assert.Nil(t, c.SearchAudio(context.Background(), "track", 2))
}

func TestSongFromRenderer_MissingIDBecomesPlaceholder(t *testing.T) {
	r := gjson.Parse(`{"title":{"runs":[{"text":"Nameless"}]}}`)
	s := songFromRenderer(r)

	assert.False(t, s.IsValidID)
	assert.Equal(t, "Nameless", s.Name)
}

func TestBestAudioFormat_RanksTierThenBitrate(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 1, AudioQuality: "AUDIO_QUALITY_LOW", Bitrate: 50000},
		{ItagNo: 2, AudioQuality: "AUDIO_QUALITY_MEDIUM", Bitrate: 128000},
		{ItagNo: 3, AudioQuality: "AUDIO_QUALITY_MEDIUM", Bitrate: 160000},
	}

	best := bestAudioFormat(formats)
	require.NotNil(t, best)
	assert.Equal(t, 3, best.ItagNo)
}

func TestBestAudioFormat_FallsBackToFirstFormat(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 7},
		{ItagNo: 8},
	}

	best := bestAudioFormat(formats)
	require.NotNil(t, best)
	assert.Equal(t, 7, best.ItagNo)
}

func TestBestAudioFormat_Empty(t *testing.T) {
	assert.Nil(t, bestAudioFormat(youtube.FormatList{}))
}

func TestAudioInfo_RefusesPlaceholderID(t *testing.T) {
	c := NewClient("")
	assert.Nil(t, c.AudioInfo(context.Background(), "temp_deadbeef"))
}

func TestViewsFromText(t *testing.T) {
	assert.Equal(t, int64(1234567), viewsFromText("1,234,567 views"))
	assert.Equal(t, int64(0), viewsFromText(""))
	assert.Equal(t, int64(0), viewsFromText("No views"))
	assert.Equal(t, int64(42), viewsFromText("42 views"))
}

func TestExtractor_BuiltOnce(t *testing.T) {
	c := NewClient("")
	first := c.extractor()
	second := c.extractor()
	assert.Same(t, first, second)
	assert.Equal(t, 30*time.Second, c.http.Timeout)
}
