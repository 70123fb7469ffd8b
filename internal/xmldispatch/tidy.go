package xmldispatch

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Tidy re-indents an XML document token by token and writes the result to
// out. It never touches the canonical artifact the store client uploads —
// callers write it to a separate *_tidy.xml sibling file for human review.
func Tidy(in io.Reader, out io.Writer) error {
	dec := xml.NewDecoder(in)
	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("decode for tidy pass: %w", err)
		}
		if cd, ok := tok.(xml.CharData); ok && len(strings.TrimSpace(string(cd))) == 0 {
			continue
		}
		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("re-encode token: %w", err)
		}
	}
	return enc.Flush()
}
