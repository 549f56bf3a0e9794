package gateway

import (
	"crypto/md5" //nolint:gosec // required by the upstream wire contract, not used for security
	"encoding/base64"
	"encoding/hex"
)

const maxArticles = 8

// Envelope is the fixed upstream JSON shape spec.md §6 names:
// {msgtype: <kind>, <kind>: {...}}.
type Envelope map[string]any

// Build validates msg and emits the upstream envelope (spec.md §4.4). When
// the message carries an UploadFile (the two-step file/image path), Build
// returns needsUpload=true and a placeholder body missing media_id; the
// Handler fills it in via FillMediaID after the upload leg succeeds.
func Build(msg Message) (env Envelope, needsUpload bool, err error) {
	switch msg.Kind {
	case KindText:
		if msg.Content == "" {
			return nil, false, validationErrorf("text requires content")
		}
		return Envelope{
			"msgtype": "text",
			"text": map[string]any{
				"content":               msg.Content,
				"mentioned_list":        orEmpty(msg.MentionedList),
				"mentioned_mobile_list": orEmpty(msg.MentionedMobileList),
			},
		}, false, nil

	case KindMarkdown:
		if msg.Content == "" {
			return nil, false, validationErrorf("markdown requires content")
		}
		return Envelope{
			"msgtype":  "markdown",
			"markdown": map[string]any{"content": msg.Content},
		}, false, nil

	case KindImage:
		if msg.UploadFile != nil {
			return Envelope{"msgtype": "image", "image": map[string]any{}}, true, nil
		}
		if msg.Base64 == "" {
			return nil, false, validationErrorf("image requires base64")
		}
		md5hex := msg.MD5
		if md5hex == "" {
			decoded, err := base64.StdEncoding.DecodeString(msg.Base64)
			if err != nil {
				return nil, false, validationErrorf("invalid base64: %v", err)
			}
			sum := md5.Sum(decoded)
			md5hex = hex.EncodeToString(sum[:])
		}
		return Envelope{
			"msgtype": "image",
			"image":   map[string]any{"base64": msg.Base64, "md5": md5hex},
		}, false, nil

	case KindNews:
		articles := make([]Article, 0, len(msg.Articles))
		for _, a := range msg.Articles {
			if a.Title == "" || a.URL == "" {
				continue
			}
			articles = append(articles, a)
			if len(articles) == maxArticles {
				break
			}
		}
		if len(articles) == 0 {
			return nil, false, validationErrorf("news requires at least one article with title and url")
		}
		return Envelope{
			"msgtype": "news",
			"news":    map[string]any{"articles": articles},
		}, false, nil

	case KindFile:
		if msg.UploadFile != nil {
			return Envelope{"msgtype": "file", "file": map[string]any{}}, true, nil
		}
		if msg.MediaID == "" {
			return nil, false, validationErrorf("file requires media_id or an uploaded file")
		}
		return Envelope{
			"msgtype": "file",
			"file":    map[string]any{"media_id": msg.MediaID},
		}, false, nil

	case KindTemplateCard:
		if msg.TemplateCard == nil {
			return nil, false, validationErrorf("template_card requires a non-null object")
		}
		return Envelope{
			"msgtype":       "template_card",
			"template_card": msg.TemplateCard,
		}, false, nil

	default:
		return nil, false, validationErrorf("unknown message type %q", msg.Kind)
	}
}

// FillMediaID patches the placeholder envelope Build returned for a
// two-step message with the media_id obtained from the upload leg.
func FillMediaID(env Envelope, kind Kind, mediaID string) {
	if body, ok := env[string(kind)].(map[string]any); ok {
		body["media_id"] = mediaID
	}
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
