// Package render builds destination-agnostic message payloads from canonical events.
package render

import (
	"fmt"
	"strings"

	"github.com/lightrelay/notification-relay/internal/models"
)

// Accent colors keyed by source kind.
const (
	ColorVideo      = 0xe74c3c
	ColorLivestream = 0x9b59b6
	ColorBlogPost   = 0xe67e22
)

// Payload limits enforced by the messaging collaborator.
const (
	MaxTitle       = 256
	MaxDescription = 4096
	MaxFieldName   = 256
	MaxFieldValue  = 1024
	MaxFooter      = 2048
	MaxFields      = 25
)

const (
	noteFieldName = "Note"
	defaultGame   = "a game"
)

// Options carries the static branding used for blog posts.
type Options struct {
	BlogName         string
	BlogThumbnailURL string
}

// Renderer turns events into message payloads. It holds no mutable state.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render builds the payload for event, appending extra per-destination fields
// (keyword mentions) after the event's own fields. The event is not modified.
func (r *Renderer) Render(event *models.NotificationEvent, extra []models.Field) models.MessagePayload {
	var p models.MessagePayload

	switch event.SourceKind {
	case models.SourceVideo:
		p = r.renderVideo(event)
	case models.SourceLivestream:
		p = r.renderLivestream(event)
	case models.SourceBlogPost:
		p = r.renderBlogPost(event)
	default:
		p = models.MessagePayload{Title: event.Title, URL: event.URL}
	}

	p.Timestamp = event.OccurredAt
	p.Fields = append(p.Fields, extra...)
	return clamp(p)
}

// KeywordFields scans cleaned post text for each keyword and returns one field per
// keyword that is mentioned.
func KeywordFields(cleaned string, keywords []string) []models.Field {
	var fields []models.Field
	for _, kw := range keywords {
		snippet, ok := KeywordSnippet(cleaned, kw)
		if !ok {
			continue
		}
		fields = append(fields, models.Field{
			Name:  fmt.Sprintf("'%s' was mentioned in this post!", kw),
			Value: snippet,
		})
	}
	return fields
}

// Announcement returns the plain-text line sent alongside the payload.
func (r *Renderer) Announcement(event *models.NotificationEvent) string {
	switch event.SourceKind {
	case models.SourceVideo:
		if event.Kind == models.KindLiveStart {
			return event.AuthorName + " is now live!"
		}
		return "New Video live!"
	case models.SourceLivestream:
		return fmt.Sprintf("%s is now live with %s!", event.AuthorName, gameName(event))
	case models.SourceBlogPost:
		return fmt.Sprintf("New %s post!", r.opts.BlogName)
	}
	return ""
}

func (r *Renderer) renderVideo(event *models.NotificationEvent) models.MessagePayload {
	return models.MessagePayload{
		Content:       r.Announcement(event),
		Title:         event.Title,
		Description:   event.AuthorName,
		URL:           event.URL,
		Color:         ColorVideo,
		ImageURL:      event.ImageURL,
		FooterText:    "YouTube",
		FooterIconURL: event.AuthorImageURL,
	}
}

func (r *Renderer) renderLivestream(event *models.NotificationEvent) models.MessagePayload {
	return models.MessagePayload{
		Content:       r.Announcement(event),
		Title:         event.Title,
		Description:   event.AuthorName,
		URL:           event.URL,
		Color:         ColorLivestream,
		ImageURL:      event.ImageURL,
		ThumbnailURL:  event.ThumbnailURL,
		FooterText:    "Twitch",
		FooterIconURL: event.AuthorImageURL,
	}
}

func (r *Renderer) renderBlogPost(event *models.NotificationEvent) models.MessagePayload {
	image := event.ImageURL
	if image == "" {
		image = FirstImageSrc(event.Description)
	}

	p := models.MessagePayload{
		Content:       r.Announcement(event),
		Title:         event.Title,
		Description:   strings.Join(event.Categories, " "),
		URL:           event.URL,
		Color:         ColorBlogPost,
		ImageURL:      image,
		ThumbnailURL:  r.opts.BlogThumbnailURL,
		AuthorName:    event.AuthorName,
		AuthorIconURL: event.AuthorImageURL,
	}

	if note := ExtractNote(CleanText(event.Description)); note != "" {
		p.Fields = []models.Field{{Name: noteFieldName, Value: note}}
	}
	return p
}

func gameName(event *models.NotificationEvent) string {
	if len(event.Categories) > 0 && event.Categories[0] != "" {
		return event.Categories[0]
	}
	return defaultGame
}

func clamp(p models.MessagePayload) models.MessagePayload {
	p.Title = truncateRunes(p.Title, MaxTitle)
	p.Description = truncateRunes(p.Description, MaxDescription)
	p.FooterText = truncateRunes(p.FooterText, MaxFooter)

	if len(p.Fields) > MaxFields {
		p.Fields = p.Fields[:MaxFields]
	}
	fields := make([]models.Field, len(p.Fields))
	for i, f := range p.Fields {
		fields[i] = models.Field{
			Name:   truncateRunes(f.Name, MaxFieldName),
			Value:  truncateRunes(f.Value, MaxFieldValue),
			Inline: f.Inline,
		}
	}
	p.Fields = fields
	return p
}
