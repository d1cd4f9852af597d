package ingestion_engine

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/markdave123-py/knosi/internal/core"
)

type textDecoder func([]byte) (string, bool)

// textDecoders are tried in order; the first that accepts the payload wins.
var textDecoders = []textDecoder{
	func(b []byte) (string, bool) { return string(b), utf8.Valid(b) },
	charmapDecoder(charmap.ISO8859_1),
	charmapDecoder(charmap.Windows1252),
}

func charmapDecoder(cm *charmap.Charmap) textDecoder {
	return func(b []byte) (string, bool) {
		out, err := cm.NewDecoder().Bytes(b)
		if err != nil {
			return "", false
		}
		return string(out), true
	}
}

func decodeText(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", core.ValidationError("file is empty")
	}
	for _, decode := range textDecoders {
		if s, ok := decode(data); ok {
			return s, nil
		}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
