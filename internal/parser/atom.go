// Package parser decodes raw provider callback bodies.
package parser

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// AtomFeed represents a YouTube Atom feed notification.
// YouTube uses the Atom 1.0 format with custom YouTube namespaces; deletions
// arrive as Atom tombstones.
type AtomFeed struct {
	XMLName xml.Name      `xml:"http://www.w3.org/2005/Atom feed"`
	Entry   *AtomEntry    `xml:"entry"`
	Deleted *DeletedEntry `xml:"http://purl.org/atompub/tombstones/1.0 deleted-entry"`
}

// AtomEntry represents a video entry in the Atom feed.
type AtomEntry struct {
	VideoID   string    `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string    `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string    `xml:"title"`
	Link      AtomLink  `xml:"link"`
	Published time.Time `xml:"published"`
	Updated   time.Time `xml:"updated"`
}

// AtomLink represents a link element in the Atom feed.
type AtomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// DeletedEntry represents a deleted video notification.
type DeletedEntry struct {
	Ref  string    `xml:"ref,attr"`
	When time.Time `xml:"when,attr"`
	By   struct {
		Name string `xml:"name"`
		URI  string `xml:"uri"`
	} `xml:"http://purl.org/atompub/tombstones/1.0 by"`
}

// VideoData contains the parsed video information from an Atom feed.
type VideoData struct {
	VideoID     string
	ChannelID   string
	Title       string
	VideoURL    string
	PublishedAt time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
}

// ParseAtomFeed parses a YouTube Atom feed XML and extracts video information.
// For tombstones only VideoID, ChannelID and IsDeleted are populated.
func ParseAtomFeed(rawXML string) (*VideoData, error) {
	var feed AtomFeed
	if err := xml.Unmarshal([]byte(rawXML), &feed); err != nil {
		return nil, fmt.Errorf("unmarshal atom feed: %w", err)
	}

	if feed.Deleted != nil {
		channelID := lastPathSegment(feed.Deleted.By.URI)
		if channelID == "" {
			return nil, fmt.Errorf("deleted entry missing channel uri")
		}
		return &VideoData{
			VideoID:   strings.TrimPrefix(feed.Deleted.Ref, "yt:video:"),
			ChannelID: channelID,
			UpdatedAt: feed.Deleted.When,
			IsDeleted: true,
		}, nil
	}

	if feed.Entry == nil {
		return nil, fmt.Errorf("atom feed missing entry element")
	}

	entry := feed.Entry

	if entry.VideoID == "" {
		return nil, fmt.Errorf("atom entry missing video ID")
	}
	if entry.ChannelID == "" {
		return nil, fmt.Errorf("atom entry missing channel ID")
	}

	videoURL := entry.Link.Href
	if videoURL == "" {
		videoURL = fmt.Sprintf("https://www.youtube.com/watch?v=%s", entry.VideoID)
	}

	return &VideoData{
		VideoID:     entry.VideoID,
		ChannelID:   entry.ChannelID,
		Title:       entry.Title,
		VideoURL:    videoURL,
		PublishedAt: entry.Published,
		UpdatedAt:   entry.Updated,
	}, nil
}

func lastPathSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
