package extract

import (
	"regexp"
	"strings"
)

// PlaceholderArtist and PlaceholderTitle are applied when metadata parsing
// fails; the audio itself is still valid and servable.
const (
	PlaceholderArtist = "Unknown Artist"
	PlaceholderTitle  = "Untitled"
)

var (
	bracketedPattern = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)
	featuringPattern = regexp.MustCompile(`(?i)^(.{2,}?)\s+(?:ft\.?|feat\.?|featuring)\s+`)
	topicSuffix      = regexp.MustCompile(`(?i)\s*-\s*topic$`)
	brandSuffix      = regexp.MustCompile(`(?i)\s*(vevo|official)$`)
)

// Channels that aggregate or re-upload music rather than represent the
// artist. A channel matching here is never taken at face value; the title is
// retried with looser separators first.
var aggregatorChannels = map[string]struct{}{
	"nocopyrightsounds": {},
	"trap nation":       {},
	"bass nation":       {},
	"mrsuicidesheep":    {},
	"majestic casual":   {},
	"proximity":         {},
	"selected.":         {},
	"ukf dubstep":       {},
	"ukf drum & bass":   {},
	"monstercat":        {},
}

var aggregatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brecords$`),
	regexp.MustCompile(`(?i)\brecordings$`),
	regexp.MustCompile(`(?i)\bpremieres?$`),
	regexp.MustCompile(`(?i)\blyrics$`),
	regexp.MustCompile(`(?i)^various artists$`),
}

var looseSeparators = []string{" - ", "-", "|", ":", " x ", " × "}

// CanonicalArtist derives a display artist from extraction metadata. It is a
// pure function so heuristic changes stay unit-testable.
func CanonicalArtist(title, channel, explicitArtist string) string {
	if artist := strings.TrimSpace(explicitArtist); artist != "" {
		return artist
	}
	title = strings.TrimSpace(title)
	channel = strings.TrimSpace(channel)

	if artist := artistFromTitle(title, []string{" - "}); artist != "" {
		return artist
	}
	if m := featuringPattern.FindStringSubmatch(title); m != nil {
		if artist := cleanSegment(m[1]); artist != "" {
			return artist
		}
	}

	if channel == "" {
		return PlaceholderArtist
	}
	if isAggregatorChannel(channel) {
		if artist := artistFromTitle(title, looseSeparators); artist != "" {
			return artist
		}
	}
	if artist := stripChannelSuffixes(channel); artist != "" {
		return artist
	}
	return PlaceholderArtist
}

func artistFromTitle(title string, separators []string) string {
	for _, sep := range separators {
		before, _, found := strings.Cut(title, sep)
		if !found {
			continue
		}
		if artist := cleanSegment(before); artist != "" {
			return artist
		}
	}
	return ""
}

// cleanSegment strips bracketed annotations like "(Official Video)" or
// "[HD]" and surrounding noise from a candidate artist segment.
func cleanSegment(s string) string {
	s = bracketedPattern.ReplaceAllString(s, "")
	return strings.Trim(s, " \t\"'•·–—")
}

func isAggregatorChannel(channel string) bool {
	key := strings.ToLower(strings.TrimSpace(channel))
	if _, ok := aggregatorChannels[key]; ok {
		return true
	}
	for _, p := range aggregatorPatterns {
		if p.MatchString(channel) {
			return true
		}
	}
	return false
}

// stripChannelSuffixes removes auto-generated channel decorations such as
// " - Topic", "VEVO" and "Official".
func stripChannelSuffixes(channel string) string {
	channel = topicSuffix.ReplaceAllString(channel, "")
	channel = brandSuffix.ReplaceAllString(channel, "")
	return strings.TrimSpace(channel)
}
