package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultExtractTimeout = 10 * time.Minute
	defaultResolveTimeout = 45 * time.Second
)

// YTDLP runs the yt-dlp binary as a supervised child process. One process per
// invocation; the process runs to completion or failure regardless of the
// originating connection.
type YTDLP struct {
	binary         string
	extractTimeout time.Duration
	resolveTimeout time.Duration
}

// NewYTDLP constructs an extractor around the given binary path. An empty
// path falls back to "yt-dlp" on PATH.
func NewYTDLP(binary string) *YTDLP {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLP{
		binary:         binary,
		extractTimeout: defaultExtractTimeout,
		resolveTimeout: defaultResolveTimeout,
	}
}

type ytdlpInfo struct {
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Channel   string        `json:"channel"`
	Artist    string        `json:"artist"`
	Creator   string        `json:"creator"`
	Thumbnail string        `json:"thumbnail"`
	Duration  float64       `json:"duration"`
	Formats   []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID string  `json:"format_id"`
	ACodec   string  `json:"acodec"`
	VCodec   string  `json:"vcodec"`
	Ext      string  `json:"ext"`
	Protocol string  `json:"protocol"`
	URL      string  `json:"url"`
	ABR      float64 `json:"abr"`
	TBR      float64 `json:"tbr"`
}

// Extract downloads audio to outputPath (an .mp3 path) and parses the
// structured metadata yt-dlp prints on success. Exit code zero with
// unparsable metadata yields ErrMetadataUnavailable, which is non-fatal for
// callers.
func (y *YTDLP) Extract(ctx context.Context, url, outputPath string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, y.extractTimeout)
	defer cancel()

	// yt-dlp substitutes the real extension, so hand it a template.
	template := strings.TrimSuffix(outputPath, ".mp3") + ".%(ext)s"
	args := []string{
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"--no-playlist",
		"--no-warnings",
		"--print-json",
		"-o", template,
		url,
	}
	cmd := exec.CommandContext(ctx, y.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp extract: %v | %s", err, tail(stderr.String()))
	}

	info, err := parseInfoOutput(stdout.Bytes())
	if err != nil {
		return Metadata{}, ErrMetadataUnavailable
	}
	return metadataFromInfo(info), nil
}

// ResolveDirectURL asks yt-dlp for format metadata without downloading and
// returns the best direct audio URL.
func (y *YTDLP) ResolveDirectURL(ctx context.Context, contentID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, y.resolveTimeout)
	defer cancel()

	args := []string{
		"-J",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		WatchURL(contentID),
	}
	cmd := exec.CommandContext(ctx, y.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp resolve: %v | %s", err, tail(stderr.String()))
	}
	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", fmt.Errorf("yt-dlp resolve parse: %w", err)
	}
	url, err := BestAudioURL(info.Formats)
	if err != nil {
		return "", err
	}
	return url, nil
}

// parseInfoOutput finds the JSON document in yt-dlp stdout. With
// --print-json the info dict is the last non-empty line.
func parseInfoOutput(out []byte) (ytdlpInfo, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal(line, &info); err == nil {
			return info, nil
		}
	}
	return ytdlpInfo{}, fmt.Errorf("no json info in output")
}

func metadataFromInfo(info ytdlpInfo) Metadata {
	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	artist := info.Artist
	if artist == "" {
		artist = info.Creator
	}
	return Metadata{
		Title:        info.Title,
		Artist:       artist,
		Channel:      channel,
		ThumbnailURL: info.Thumbnail,
		DurationSec:  info.Duration,
		Raw: map[string]string{
			"title":    info.Title,
			"uploader": info.Uploader,
			"channel":  info.Channel,
			"artist":   info.Artist,
			"duration": strconv.FormatFloat(info.Duration, 'f', -1, 64),
		},
	}
}

// BestAudioURL picks the most suitable direct audio URL from format
// candidates: audio-only first, then plain https over segmented protocols,
// then higher bitrate.
func BestAudioURL(formats []ytdlpFormat) (string, error) {
	candidates := make([]ytdlpFormat, 0, len(formats))
	for _, f := range formats {
		if f.URL == "" {
			continue
		}
		if (f.VCodec == "none" || f.VCodec == "") && f.ACodec != "none" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		for _, f := range formats {
			if f.URL != "" && f.ACodec != "none" {
				candidates = append(candidates, f)
			}
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no usable audio formats")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := scoreFormat(candidates[i]), scoreFormat(candidates[j])
		if si == sj {
			return candidates[i].ABR > candidates[j].ABR
		}
		return si > sj
	})
	return candidates[0].URL, nil
}

func scoreFormat(f ytdlpFormat) int {
	score := 0
	switch strings.ToLower(f.Ext) {
	case "m4a":
		score += 100
	case "webm":
		score += 90
	case "ogg", "opus":
		score += 85
	default:
		score += 60
	}
	p := strings.ToLower(f.Protocol)
	switch {
	case strings.HasPrefix(p, "https"):
		score += 30
	case strings.HasPrefix(p, "http"):
		score += 25
	case strings.Contains(p, "m3u8") || strings.Contains(p, "hls"):
		score += 20
	case strings.Contains(p, "dash"):
		score += 15
	}
	if f.ABR > 0 {
		score += int(f.ABR)
	} else if f.TBR > 0 {
		score += int(f.TBR / 2)
	}
	return score
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 400
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
