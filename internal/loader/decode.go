package loader

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const encodingUTF8 = "utf-8"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// legacyEncodings maps accepted names to 8-bit charmaps
var legacyEncodings = map[string]*charmap.Charmap{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin-1":      charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
}

// DefaultEncodings is the fallback chain tried after UTF-8
var DefaultEncodings = []string{"windows-1252", "iso-8859-1"}

// ValidateEncoding reports whether name is a supported legacy encoding
func ValidateEncoding(name string) error {
	if _, ok := legacyEncodings[strings.ToLower(name)]; !ok {
		return fmt.Errorf("unsupported encoding %q", name)
	}
	return nil
}

// decode returns the source as UTF-8 text and the name of the encoding used
func decode(data []byte, fallbacks []string) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), encodingUTF8, nil
	}

	for _, name := range fallbacks {
		cm, ok := legacyEncodings[strings.ToLower(name)]
		if !ok {
			continue
		}
		text, err := decodeWith(cm, data)
		if err != nil {
			continue
		}
		return text, strings.ToLower(name), nil
	}
	return "", "", fmt.Errorf("source is not valid UTF-8 and no fallback encoding (%s) decoded it", strings.Join(fallbacks, ", "))
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	// charmaps substitute undefined bytes instead of failing
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("undefined byte sequence")
	}
	return string(out), nil
}
