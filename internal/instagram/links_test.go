package instagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantKind LinkKind
		wantID   string
	}{
		{"profile", "https://www.instagram.com/natgeo", LinkProfile, "natgeo"},
		{"profile trailing slash", "https://instagram.com/natgeo/", LinkProfile, "natgeo"},
		{"profile with dots", "https://www.instagram.com/nat.geo_2/", LinkProfile, "nat.geo_2"},
		{"profile with tracking params", "https://www.instagram.com/natgeo/?hl=en", LinkProfile, "natgeo"},
		{"reel", "https://www.instagram.com/reel/Cxy123_ab/", LinkReel, "Cxy123_ab"},
		{"reel plural path", "https://www.instagram.com/reels/Cxy123_ab/", LinkReel, "Cxy123_ab"},
		{"reel with share token", "https://www.instagram.com/reel/Cxy123_ab/?igsh=MzRlODBiNWFlZA==", LinkReel, "Cxy123_ab"},
		{"post", "https://www.instagram.com/p/Cab987/", LinkPost, "Cab987"},
		{"post http no www", "http://instagram.com/p/Cab987", LinkPost, "Cab987"},
		{"story", "https://www.instagram.com/stories/natgeo/31415926535/", LinkStory, "natgeo"},
		{"bare reel path segment", "https://www.instagram.com/reel", LinkProfile, "reel"},
		{"explore is not a known shape", "https://www.instagram.com/explore/tags/nature/", LinkUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := Classify(tt.url)
			assert.Equal(t, tt.wantKind, link.Kind)
			assert.Equal(t, tt.wantID, link.ID)
			assert.Equal(t, tt.url, link.URL, "original URL should be preserved")
		})
	}
}

func TestFindLink(t *testing.T) {
	t.Run("extracts URL from surrounding text", func(t *testing.T) {
		link, ok := FindLink("check this out https://www.instagram.com/reel/Cxy123/ so good")
		assert.True(t, ok)
		assert.Equal(t, LinkReel, link.Kind)
		assert.Equal(t, "Cxy123", link.ID)
	})

	t.Run("no instagram URL", func(t *testing.T) {
		_, ok := FindLink("https://example.com/reel/abc")
		assert.False(t, ok)
	})

	t.Run("plain text", func(t *testing.T) {
		_, ok := FindLink("hello there")
		assert.False(t, ok)
	})

	t.Run("first of several URLs wins", func(t *testing.T) {
		link, ok := FindLink("https://instagram.com/p/AAA https://instagram.com/p/BBB")
		assert.True(t, ok)
		assert.Equal(t, "AAA", link.ID)
	})
}
