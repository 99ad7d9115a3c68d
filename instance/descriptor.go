// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package instance

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
)

// ErrMalformedDescriptor reports a version descriptor that repeats a
// tag or lacks the mandatory entries.
const ErrMalformedDescriptor = errors.ConstError("malformed version descriptor")

const (
	releaseTag = "release"
	dateTag    = "date"

	// patchTag entries may repeat and carry no version information;
	// they are skipped entirely.
	patchTag = "patch"
)

// ReadVersionDescriptor parses an OJS version.xml file into its flat
// tag/text mapping. A repeated tag other than patch is fatal.
func ReadVersionDescriptor(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "opening version descriptor")
	}
	defer f.Close()
	info, err := parseDescriptor(f)
	return info, errors.Annotatef(err, "%q", path)
}

func parseDescriptor(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	// OJS descriptors carry a DOCTYPE referencing a local DTD; there is
	// no entity expansion to do.
	dec.Strict = false

	info := make(map[string]string)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotate(err, "parsing version descriptor")
		}
		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			if depth < 2 {
				continue
			}
			tag := el.Name.Local
			if tag == patchTag {
				if err := dec.Skip(); err != nil {
					return nil, errors.Annotate(err, "parsing version descriptor")
				}
				depth--
				continue
			}
			if _, ok := info[tag]; ok {
				return nil, errors.Annotatef(ErrMalformedDescriptor, "duplicate tag %q", tag)
			}
			var text string
			if err := dec.DecodeElement(&text, &el); err != nil {
				return nil, errors.Annotatef(err, "reading tag %q", tag)
			}
			info[tag] = strings.TrimSpace(text)
			depth--
		case xml.EndElement:
			depth--
		}
	}
	for _, required := range []string{releaseTag, dateTag} {
		if _, ok := info[required]; !ok {
			return nil, errors.Annotatef(ErrMalformedDescriptor, "missing tag %q", required)
		}
	}
	return info, nil
}
