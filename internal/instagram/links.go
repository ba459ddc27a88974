package instagram

import (
	"regexp"
	"strings"
)

// LinkKind classifies what an Instagram URL points at.
type LinkKind string

const (
	LinkProfile LinkKind = "profile"
	LinkReel    LinkKind = "reel"
	LinkPost    LinkKind = "post"
	LinkStory   LinkKind = "story"
	LinkUnknown LinkKind = "unknown"
)

// Link is a classified Instagram URL. ID holds the username for profiles and
// the shortcode for reels and posts.
type Link struct {
	Kind LinkKind
	ID   string
	URL  string
}

var urlPattern = regexp.MustCompile(`https?://(?:www\.)?instagram\.com/[^\s]+`)

// Ordered: the profile pattern would also match single-segment paths like
// /reel, so the specific kinds are tried first.
var kindPatterns = []struct {
	kind LinkKind
	re   *regexp.Regexp
}{
	{LinkReel, regexp.MustCompile(`instagram\.com/reels?/([A-Za-z0-9_-]+)`)},
	{LinkPost, regexp.MustCompile(`instagram\.com/p/([A-Za-z0-9_-]+)`)},
	{LinkStory, regexp.MustCompile(`instagram\.com/stories/([A-Za-z0-9_.]+)/`)},
	{LinkProfile, regexp.MustCompile(`instagram\.com/([A-Za-z0-9_.]+)/?$`)},
}

// FindLink extracts the first Instagram URL from free-form message text and
// classifies it. It returns false when the text contains no Instagram URL.
func FindLink(text string) (Link, bool) {
	url := urlPattern.FindString(text)
	if url == "" {
		return Link{}, false
	}
	return Classify(url), true
}

// Classify identifies what kind of content url points at. URLs on the
// instagram.com host that match no known shape come back as LinkUnknown.
func Classify(url string) Link {
	// Share links carry tracking params (?igsh=...) that would defeat the
	// end-anchored profile pattern.
	trimmed, _, _ := strings.Cut(url, "?")
	trimmed, _, _ = strings.Cut(trimmed, "#")

	for _, p := range kindPatterns {
		m := p.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		return Link{Kind: p.kind, ID: m[1], URL: url}
	}
	return Link{Kind: LinkUnknown, URL: url}
}
