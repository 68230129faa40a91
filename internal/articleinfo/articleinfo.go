// Package articleinfo derives a tagged article-identity record from a
// filename, replacing scattered filename-regex variant branching with one
// documented pattern and an immutable result.
package articleinfo

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Info is the tagged record derived from one file name: a journal prefix,
// a zero-padded numeric article id, and optional version/revision
// suffixes.
type Info struct {
	Prefix   string
	ID       string // zero-padded, as it appeared in the filename
	Version  int    // 0 if the filename carried none
	Revision int    // 0 if the filename carried none
	Ext      string
}

// pattern matches "<prefix>-<id>[-v<version>][-r<revision>]<.ext>", e.g.
// "elife-00123-v2.xml" or "elife-00123-v2-r1.pdf".
var pattern = regexp.MustCompile(`^([a-zA-Z]+)-(\d+)(?:-v(\d+))?(?:-r(\d+))?(\.[A-Za-z0-9]+)?$`)

// Parse derives an Info from a filename, ignoring any leading directory
// components. It returns an error if the filename does not match the
// journal-prefix/zero-padded-id convention.
func Parse(fileName string) (Info, error) {
	base := filepath.Base(fileName)
	m := pattern.FindStringSubmatch(base)
	if m == nil {
		return Info{}, fmt.Errorf("articleinfo: %q does not match the article identity pattern", base)
	}

	info := Info{Prefix: m[1], ID: m[2], Ext: m[5]}
	if m[3] != "" {
		v, err := strconv.Atoi(m[3])
		if err != nil {
			return Info{}, fmt.Errorf("articleinfo: invalid version in %q: %w", base, err)
		}
		info.Version = v
	}
	if m[4] != "" {
		r, err := strconv.Atoi(m[4])
		if err != nil {
			return Info{}, fmt.Errorf("articleinfo: invalid revision in %q: %w", base, err)
		}
		info.Revision = r
	}
	return info, nil
}

// NumericID parses ID as an integer, stripping leading zeros.
func (i Info) NumericID() (int, error) {
	return strconv.Atoi(strings.TrimLeft(i.ID, "0"))
}

// StripVersionSuffix removes a "-v<N>" token from a filename, used before
// writing deposit files into outbound archives.
func StripVersionSuffix(fileName string) string {
	re := regexp.MustCompile(`-v\d+`)
	return re.ReplaceAllString(fileName, "")
}
