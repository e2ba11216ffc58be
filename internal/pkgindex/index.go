// Package pkgindex answers "what is the newest published version?" from a
// package index: a plain-text mirror, an XML bucket listing or S3.
package pkgindex

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	ChannelMirror  = "mirror"
	ChannelListing = "listing"
	ChannelS3      = "s3"
	ChannelNone    = "none"
)

// DefaultPattern matches a version suffix in a package key such as
// "ide50/pool/ide50_139_all.deb".
const DefaultPattern = `_(\d+)_all\.deb$`

// Index looks up the newest version at or above watermark. found is false
// when nothing at or above the watermark is published; that is not an error.
type Index interface {
	Latest(ctx context.Context, watermark int) (version int, found bool, err error)
}

// None never finds anything. The cached value is all there is.
type None struct{}

func (None) Latest(context.Context, int) (int, bool, error) { return 0, false, nil }

var mirrorVersion = regexp.MustCompile(`(?m)^Version:\s*(\d+)\s*$`)

// CompilePattern checks that p has a capture group for the version number.
func CompilePattern(p string) (*regexp.Regexp, error) {
	if strings.TrimSpace(p) == "" {
		p = DefaultPattern
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q: needs a capture group", p)
	}
	return re, nil
}

// best folds candidate into the running maximum, ignoring anything below
// watermark or not numeric.
func best(cur int, found bool, candidate string, watermark int) (int, bool) {
	n, err := strconv.Atoi(candidate)
	if err != nil || n < watermark {
		return cur, found
	}
	if !found || n > cur {
		return n, true
	}
	return cur, found
}

func matchKey(re *regexp.Regexp, key string) (string, bool) {
	m := re.FindStringSubmatch(key)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
