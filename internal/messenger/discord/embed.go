package discord

import (
	"time"

	"github.com/lightrelay/notification-relay/internal/models"
)

type message struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Image       *embedMedia  `json:"image,omitempty"`
	Thumbnail   *embedMedia  `json:"thumbnail,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedMedia struct {
	URL string `json:"url"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func toMessage(p models.MessagePayload) message {
	e := embed{
		Title:       p.Title,
		Description: p.Description,
		URL:         p.URL,
		Color:       p.Color,
	}
	if !p.Timestamp.IsZero() {
		e.Timestamp = p.Timestamp.UTC().Format(time.RFC3339)
	}
	if p.ImageURL != "" {
		e.Image = &embedMedia{URL: p.ImageURL}
	}
	if p.ThumbnailURL != "" {
		e.Thumbnail = &embedMedia{URL: p.ThumbnailURL}
	}
	if p.AuthorName != "" {
		e.Author = &embedAuthor{Name: p.AuthorName, IconURL: p.AuthorIconURL}
	}
	if p.FooterText != "" {
		e.Footer = &embedFooter{Text: p.FooterText, IconURL: p.FooterIconURL}
	}
	for _, f := range p.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}

	return message{Content: p.Content, Embeds: []embed{e}}
}
