// Package media turns an orchestrator attachment (file name plus base64
// payload) and a caption into an attachment a chat transport can send.
package media

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxAttachmentBytes caps a decoded payload. WhatsApp documents top out
// well below this.
const MaxAttachmentBytes = 64 << 20

// DefaultMimeType is declared when neither the extension nor the bytes
// identify the payload.
const DefaultMimeType = "application/pdf"

// Kind is the transport-level category of an attachment.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// Attachment is a decoded, transport-ready payload.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
	Caption  string
}

// Kind derives the category from the MIME type.
func (a *Attachment) Kind() Kind {
	switch {
	case strings.HasPrefix(a.MimeType, "image/"):
		return KindImage
	case strings.HasPrefix(a.MimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(a.MimeType, "audio/"):
		return KindAudio
	}
	return KindDocument
}

// Size is the decoded payload length in bytes.
func (a *Attachment) Size() int { return len(a.Data) }

// MediaEncodingError reports an attachment payload that cannot be relayed.
type MediaEncodingError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *MediaEncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %q: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("media %q: %s", e.FileName, e.Reason)
}

func (e *MediaEncodingError) Unwrap() error { return e.Err }

// Present reports whether both halves of an attachment were supplied.
// Anything less means a text-only reply.
func Present(name, content string) bool {
	return strings.TrimSpace(name) != "" && strings.TrimSpace(content) != ""
}

// BuildAttachment decodes content and pairs it with name and caption.
func BuildAttachment(name, content, caption string) (*Attachment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &MediaEncodingError{Reason: "missing file name"}
	}
	declared, payload := splitDataURL(content)
	if payload == "" {
		return nil, &MediaEncodingError{FileName: name, Reason: "empty payload"}
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxAttachmentBytes+3 {
		return nil, &MediaEncodingError{FileName: name, Reason: fmt.Sprintf("payload exceeds %d bytes", MaxAttachmentBytes)}
	}

	data, err := decode(payload)
	if err != nil {
		return nil, &MediaEncodingError{FileName: name, Reason: "invalid base64", Err: err}
	}
	if len(data) == 0 {
		return nil, &MediaEncodingError{FileName: name, Reason: "empty payload"}
	}
	if len(data) > MaxAttachmentBytes {
		return nil, &MediaEncodingError{FileName: name, Reason: fmt.Sprintf("payload exceeds %d bytes", MaxAttachmentBytes)}
	}

	return &Attachment{
		FileName: filepath.Base(name),
		MimeType: detectMimeType(name, declared, data),
		Data:     data,
		Caption:  caption,
	}, nil
}

// splitDataURL strips a "data:<mime>;base64," prefix, returning the mime
// type it declared.
func splitDataURL(content string) (string, string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "data:") {
		return "", content
	}
	meta, payload, ok := strings.Cut(content, ",")
	if !ok {
		return "", ""
	}
	meta = strings.TrimPrefix(meta, "data:")
	meta = strings.TrimSuffix(meta, ";base64")
	return strings.TrimSpace(meta), strings.TrimSpace(payload)
}

func decode(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// chatTypes covers the formats chat transports care about that are missing
// from Go's builtin table on hosts without a mime.types file.
var chatTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".3gp":  "video/3gpp",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
	".txt":  "text/plain",
}

func detectMimeType(name, declared string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := chatTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return stripParams(t)
	}
	if declared != "" {
		return stripParams(declared)
	}
	if sniffed := stripParams(http.DetectContentType(data)); sniffed != "application/octet-stream" && sniffed != "text/plain" {
		return sniffed
	}
	return DefaultMimeType
}

func stripParams(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
