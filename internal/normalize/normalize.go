// Package normalize turns raw document bytes into stable UTF-8 text.
//
// Normalization is strictly deletion-only: CR and CRLF become LF and NUL
// bytes are dropped. Nothing is reordered, folded, or substituted, so every
// offset computed over the normalized text stays valid for the lifetime of
// the stored document.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Fallback is the encoding assumed when detection fails. Every byte maps in
// Windows-1252, so decoding with it cannot fail.
const Fallback = "windows-1252"

var newline = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// Normalize converts CRLF and lone CR to LF and strips NUL bytes.
func Normalize(s string) string {
	return newline.Replace(s)
}

// DetectEncoding names the probable encoding of data. Empty and valid-UTF-8
// inputs short-circuit to "utf-8"; otherwise a statistical detector runs and
// its best guess is returned lowercased, falling back to Windows-1252 when
// the detector has nothing.
func DetectEncoding(data []byte) string {
	if len(data) == 0 {
		return "utf-8"
	}
	if utf8.Valid(data) {
		return "utf-8"
	}
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && res != nil && res.Charset != "" {
		return strings.ToLower(res.Charset)
	}
	return Fallback
}

// Decode converts data to UTF-8 according to enc. Unknown encodings and
// decoder failures fall back to Windows-1252, mirroring the tolerant decode
// path of the ingest pipeline: ingest never fails on encoding alone.
func Decode(data []byte, enc string) string {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(enc), "_", "-"))

	switch name {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		if utf8.Valid(data) {
			return string(data)
		}
		return strings.ToValidUTF8(string(data), "�")
	}

	e := lookup(name)
	if e == nil {
		e = charmap.Windows1252
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		out, _ = charmap.Windows1252.NewDecoder().Bytes(data)
	}
	return string(out)
}

// NormalizeBytes runs detection, decoding, and normalization in one step and
// reports the encoding it decided on.
func NormalizeBytes(data []byte) (text, enc string) {
	enc = DetectEncoding(data)
	return Normalize(Decode(data, enc)), enc
}

// lookup maps a lowercased, dash-normalized charset name to a decoder.
// Variants the detector emits but the table omits decode as Windows-1252.
func lookup(name string) encoding.Encoding {
	switch name {
	case "windows-1250":
		return charmap.Windows1250
	case "windows-1251":
		return charmap.Windows1251
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "windows-1253":
		return charmap.Windows1253
	case "windows-1254":
		return charmap.Windows1254
	case "windows-1255":
		return charmap.Windows1255
	case "windows-1256":
		return charmap.Windows1256
	case "windows-1257":
		return charmap.Windows1257
	case "windows-1258":
		return charmap.Windows1258
	case "iso-8859-1", "latin-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-2":
		return charmap.ISO8859_2
	case "iso-8859-5":
		return charmap.ISO8859_5
	case "iso-8859-6":
		return charmap.ISO8859_6
	case "iso-8859-7":
		return charmap.ISO8859_7
	case "iso-8859-8", "iso-8859-8-i":
		return charmap.ISO8859_8
	case "iso-8859-9":
		return charmap.ISO8859_9
	case "iso-8859-15":
		return charmap.ISO8859_15
	case "koi8-r":
		return charmap.KOI8R
	case "ibm866":
		return charmap.CodePage866
	case "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	}
	return nil
}
