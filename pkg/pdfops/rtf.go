package pdfops

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

const (
	rtfHeader = `{\rtf1\ansi\ansicpg1252\deff0\nouicompat{\fonttbl{\f0\fnil Arial;}}` + "\n" +
		`{\colortbl ;\red0\green0\blue0;}` + "\n" +
		`\viewkind4\uc1\pard\f0\fs24 `
	rtfPageBreak = "\\page\n"
	rtfFooter    = "}\n"
)

// WriteRTF writes pages as a Windows-1252 RTF document with a page break
// between pages.
func WriteRTF(w io.Writer, pages []string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(rtfHeader); err != nil {
		return err
	}
	for i, page := range pages {
		if i > 0 {
			if _, err := bw.WriteString(rtfPageBreak); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(EscapeRTF(page)); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString(rtfFooter); err != nil {
		return err
	}
	return bw.Flush()
}

// EscapeRTF encodes text for an RTF body. Control characters of RTF are
// escaped, line breaks become paragraphs, characters in Windows-1252 are
// written as \'hh and anything else as a \uN? escape.
func EscapeRTF(text string) string {
	text = norm.NFC.String(text)
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\\' || r == '{' || r == '}':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString("\\par\n")
		case r == '\r':
		case r == '\t':
			sb.WriteString("\\tab ")
		case r == '\f':
			sb.WriteString(rtfPageBreak)
		case r >= 0x20 && r < 0x80:
			sb.WriteRune(r)
		case r < 0x20:
		default:
			if b, ok := charmap.Windows1252.EncodeRune(r); ok {
				fmt.Fprintf(&sb, "\\'%02x", b)
				continue
			}
			if r > 0xFFFF {
				// RTF \u takes a signed 16-bit value, so astral runes go out as a surrogate pair.
				r -= 0x10000
				fmt.Fprintf(&sb, "\\u%d?\\u%d?", int16(0xD800+(r>>10)), int16(0xDC00+(r&0x3FF)))
				continue
			}
			fmt.Fprintf(&sb, "\\u%d?", int16(r))
		}
	}
	return sb.String()
}
