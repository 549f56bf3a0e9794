// Package gateway implements the webhook message-dispatch adapter: it
// normalizes three input shapes into a typed descriptor, validates and
// builds the fixed upstream JSON envelope, and dispatches it (with a
// two-step upload+send for files/images) to the upstream chat webhook.
package gateway

// Kind is one of the six message shapes spec.md §4.4 names.
type Kind string

const (
	KindText         Kind = "text"
	KindMarkdown     Kind = "markdown"
	KindImage        Kind = "image"
	KindNews         Kind = "news"
	KindFile         Kind = "file"
	KindTemplateCard Kind = "template_card"
)

// Article is one entry of a news/link message.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	PicURL      string `json:"picurl,omitempty"`
}

// UploadFile is a file or image submitted as a multipart part, pending the
// upload leg of the two-step dispatch.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the typed descriptor the Request Normalizer reduces every
// input shape to (spec.md §4.4).
type Message struct {
	Kind Kind

	// text / markdown
	Content             string
	MentionedList       []string
	MentionedMobileList []string

	// image
	Base64 string
	MD5    string

	// news / link
	Articles []Article

	// file
	MediaID    string
	UploadFile *UploadFile

	// template_card
	TemplateCard map[string]any
}
