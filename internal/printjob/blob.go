package printjob

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/adcondev/print-agent/internal/printerr"
)

// Blob holds the raw JSON of a pdf_blob field until the PDF path decodes it.
type Blob []byte

// UnmarshalJSON keeps the raw value. A JSON null leaves the blob empty.
func (b *Blob) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}
	*b = append((*b)[0:0], data...)
	return nil
}

// MarshalJSON writes the raw value back.
func (b Blob) MarshalJSON() ([]byte, error) {
	if b.IsZero() {
		return []byte("null"), nil
	}
	return b, nil
}

// IsZero reports whether no payload was supplied.
func (b Blob) IsZero() bool {
	raw := bytes.TrimSpace(b)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

type bufferObject struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Bytes decodes the payload. Three shapes are recognized: a Buffer object
// {"type":"Buffer","data":[...]}, an array of byte values, and a base64
// string. Anything else, including an empty payload, is an INVALID_INPUT
// error.
func (b Blob) Bytes() ([]byte, error) {
	if b.IsZero() {
		return nil, printerr.New(printerr.KindMissingInput, "pdf_blob is required")
	}
	out, err := b.decode()
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, printerr.New(printerr.KindInvalidInput, "pdf_blob is empty")
	}
	return out, nil
}

func (b Blob) decode() ([]byte, error) {
	raw := bytes.TrimSpace(b)
	switch raw[0] {
	case '{':
		var obj bufferObject
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Type != "Buffer" || len(obj.Data) == 0 {
			return nil, invalidBlob("object")
		}
		return decodeByteArray(obj.Data)
	case '[':
		return decodeByteArray(raw)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidBlob("string")
		}
		return decodeBase64(s)
	case 't', 'f':
		return nil, invalidBlob("boolean")
	default:
		return nil, invalidBlob("number")
	}
}

func decodeByteArray(raw json.RawMessage) ([]byte, error) {
	var values []json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, invalidBlob("array")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		n, err := v.Int64()
		if err != nil || n < 0 || n > 255 {
			return nil, printerr.New(printerr.KindInvalidInput,
				"pdf_blob byte %d is out of range: %s", i, v.String())
		}
		out[i] = byte(n)
	}
	return out, nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalidBlob("empty string")
	}
	for _, enc := range base64Encodings {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, printerr.New(printerr.KindInvalidInput, "pdf_blob string is not valid base64")
}

func invalidBlob(kind string) error {
	return printerr.New(printerr.KindInvalidInput,
		"pdf_blob must be a Buffer, a byte array or a base64 blob, got %s", kind)
}
