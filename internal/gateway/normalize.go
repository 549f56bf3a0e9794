package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
)

// ErrValidation marks a normalizer/builder failure caused by the caller's
// input, mapped to 400 by the HTTP layer.
var ErrValidation = errors.New("gateway: validation error")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

const maxBodyBytes = 25 << 20 // generous headroom over the 20MB file cap

// jsonWire is the JSON input shape spec.md §4.4 accepts.
type jsonWire struct {
	Type                string          `json:"type"`
	Content             json.RawMessage `json:"content"`
	MentionedList       []string        `json:"mentioned_list"`
	MentionedMobileList []string        `json:"mentioned_mobile_list"`
	Base64              string          `json:"base64"`
	MD5                 string          `json:"md5"`
	Articles            []Article       `json:"articles"`
	Title               string          `json:"title"`
	URL                 string          `json:"url"`
	Description         string          `json:"description"`
	PicURL              string          `json:"picurl"`
	MediaID             string          `json:"media_id"`
	TemplateCard        map[string]any  `json:"template_card"`
}

// Normalize reduces POST / 's three accepted input shapes (spec.md §4.4) to
// a typed Message.
func Normalize(r *http.Request) (Message, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return normalizeJSON(r)
	case "multipart/form-data":
		return normalizeMultipart(r)
	default:
		return normalizeRawText(r)
	}
}

func normalizeJSON(r *http.Request) (Message, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	var w jsonWire
	if err := json.NewDecoder(body).Decode(&w); err != nil {
		return Message{}, validationErrorf("invalid JSON body: %v", err)
	}

	kind := normalizeKind(w.Type)
	msg := Message{
		Kind:                kind,
		MentionedList:       w.MentionedList,
		MentionedMobileList: w.MentionedMobileList,
		Base64:              w.Base64,
		MD5:                 w.MD5,
		MediaID:             w.MediaID,
		TemplateCard:        w.TemplateCard,
	}

	if len(w.Content) > 0 {
		msg.Content = coerceToString(w.Content)
	}

	switch kind {
	case KindNews:
		if len(w.Articles) > 0 {
			msg.Articles = w.Articles
		} else if w.Title != "" || w.URL != "" {
			msg.Articles = []Article{{Title: w.Title, URL: w.URL, Description: w.Description, PicURL: w.PicURL}}
		}
	}

	return msg, nil
}

// coerceToString implements spec.md §4.4's "content (string; coerce)": a
// JSON string decodes as-is, any other scalar is rendered to its textual
// form rather than rejected.
func coerceToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return string(raw)
}

func normalizeMultipart(r *http.Request) (Message, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		return Message{}, validationErrorf("invalid multipart body: %v", err)
	}

	kind := KindFile
	if r.FormValue("type") == "image" {
		kind = KindImage
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return Message{}, validationErrorf("missing form field \"file\": %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Message{}, validationErrorf("read upload: %v", err)
	}

	return Message{
		Kind: kind,
		UploadFile: &UploadFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		},
	}, nil
}

func normalizeRawText(r *http.Request) (Message, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return Message{}, validationErrorf("read body: %v", err)
	}

	kind := KindText
	if r.URL.Query().Get("type") == "markdown" {
		kind = KindMarkdown
	}

	return Message{Kind: kind, Content: string(data)}, nil
}

func normalizeKind(t string) Kind {
	switch t {
	case "link":
		return KindNews
	case "":
		return KindText
	default:
		return Kind(t)
	}
}
