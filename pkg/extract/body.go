package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Body returns the first text/plain part of a raw RFC 5322 message,
// decoded from its declared charset and transfer encoding. Messages without
// one fall back to the raw payload decoded as UTF-8, with invalid bytes
// replaced by U+FFFD.
func Body(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading message: %w", err)
	}

	if text, ok := plainTextPart(raw); ok {
		return text, nil
	}
	return decodeUTF8(payload(raw)), nil
}

func plainTextPart(raw []byte) (string, bool) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	defer mr.Close()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", false
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		// No Content-Type means text/plain.
		if h.Get("Content-Type") != "" {
			ct, _, err := h.ContentType()
			if err != nil || !strings.EqualFold(ct, "text/plain") {
				continue
			}
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", false
		}
		return decodeUTF8(b), true
	}
}

// payload strips the header block, if there is one.
func payload(raw []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return raw[i+len(sep):]
		}
	}
	return raw
}

func decodeUTF8(b []byte) string {
	s, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(s)
}
