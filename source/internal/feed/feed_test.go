package feed

import (
	"testing"
)

const rss20Media = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>World News</title>
    <link>https://news.example.com</link>
    <item>
      <title>Harbour Fire</title>
      <link>https://news.example.com/fire</link>
      <guid>fire-1</guid>
      <description>Crews responded overnight.</description>
      <dc:creator>Ada Reporter</dc:creator>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
      <media:content url="https://img.example.com/fire.jpg" medium="image" width="1024"/>
      <media:thumbnail url="https://img.example.com/fire_t.jpg"/>
    </item>
    <item>
      <title>Podcast</title>
      <link>https://news.example.com/pod</link>
      <description>Listen.</description>
      <enclosure url="https://cdn.example.com/ep.mp3" length="1234" type="audio/mpeg"/>
    </item>
    <item>
      <title>Grouped</title>
      <link>https://news.example.com/grouped</link>
      <description>Group media.</description>
      <media:group>
        <media:content url="https://cdn.example.com/clip.mp4" type="video/mp4"/>
      </media:group>
    </item>
  </channel>
</rss>`

const atom10Sample = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <title>Atom Entry</title>
    <link href="https://example.com/atom/1"/>
    <id>urn:uuid:1</id>
    <updated>2024-01-01T10:00:00Z</updated>
    <author><name>Bob</name></author>
    <content type="html">&lt;p&gt;Hello &lt;img src="https://img.example.com/a.png"&gt;&lt;/p&gt;</content>
  </entry>
</feed>`

func TestParse_RSSMedia(t *testing.T) {
	// WHAT: media:content, media:thumbnail, media:group and enclosures reach the Entry.
	// WHY: media detection depends on every one of these sources.
	f, err := Parse([]byte(rss20Media))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Title != "World News" || len(f.Entries) != 3 {
		t.Fatalf("feed = %q with %d entries", f.Title, len(f.Entries))
	}

	e := f.Entries[0]
	if e.GUID != "fire-1" || e.Author != "Ada Reporter" {
		t.Errorf("entry = %+v", e)
	}
	if e.Published.IsZero() {
		t.Error("published should be parsed")
	}
	if len(e.Media) != 1 || e.Media[0].URL != "https://img.example.com/fire.jpg" || !e.Media[0].IsImage() {
		t.Errorf("media = %+v", e.Media)
	}
	if !contains(e.Thumbnails, "https://img.example.com/fire_t.jpg") {
		t.Errorf("thumbnails = %v", e.Thumbnails)
	}

	pod := f.Entries[1]
	if len(pod.Enclosures) != 1 || pod.Enclosures[0].Type != "audio/mpeg" {
		t.Errorf("enclosures = %+v", pod.Enclosures)
	}
	if pod.GUID != "https://news.example.com/pod" {
		t.Errorf("guid fallback = %q", pod.GUID)
	}

	grouped := f.Entries[2]
	if len(grouped.Media) != 1 || !grouped.Media[0].IsVisual() || grouped.Media[0].IsImage() {
		t.Errorf("grouped media = %+v", grouped.Media)
	}
}

func TestParse_Atom(t *testing.T) {
	f, err := Parse([]byte(atom10Sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Entries) != 1 {
		t.Fatalf("entries = %d", len(f.Entries))
	}
	e := f.Entries[0]
	if e.Author != "Bob" || e.Link != "https://example.com/atom/1" {
		t.Errorf("entry = %+v", e)
	}
	if e.HTML() == "" || e.Published.IsZero() {
		t.Errorf("html = %q, published = %v", e.HTML(), e.Published)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not a feed at all"} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestMedia_IsVisual(t *testing.T) {
	tests := []struct {
		m    Media
		want bool
	}{
		{Media{Medium: "image"}, true},
		{Media{Medium: "Video"}, true},
		{Media{Type: "image/png"}, true},
		{Media{Medium: "audio", Type: "audio/mpeg"}, false},
		{Media{}, false},
	}
	for _, tt := range tests {
		if got := tt.m.IsVisual(); got != tt.want {
			t.Errorf("%+v.IsVisual() = %v", tt.m, got)
		}
	}
}
