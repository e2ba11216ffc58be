package pkgindex

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

const maxListingPages = 20

// Listing walks an S3-compatible XML bucket listing (ListBucketResult),
// following IsTruncated/NextMarker, and matches each Key against Pattern.
type Listing struct {
	URL     string
	Prefix  string
	Pattern *regexp.Regexp
	Client  Getter
}

func (l *Listing) Latest(ctx context.Context, watermark int) (int, bool, error) {
	var v int
	var found bool
	marker := ""
	for page := 0; page < maxListingPages; page++ {
		q := url.Values{}
		if l.Prefix != "" {
			q.Set("prefix", l.Prefix)
		}
		if marker != "" {
			q.Set("marker", marker)
		}
		body, err := l.Client.GetText(ctx, l.URL, q)
		if err != nil {
			return 0, false, err
		}
		keys, next, err := parseListing(body)
		if err != nil {
			return 0, false, err
		}
		for _, k := range keys {
			if s, ok := matchKey(l.Pattern, k); ok {
				v, found = best(v, found, s, watermark)
			}
		}
		if next == "" {
			return v, found, nil
		}
		marker = next
	}
	return v, found, nil
}

// parseListing returns the keys on one page and the marker for the next
// page, or "" when the listing is complete.
func parseListing(body string) (keys []string, next string, err error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return nil, "", fmt.Errorf("listing: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, "", fmt.Errorf("listing: empty document")
	}
	for _, el := range root.FindElements("//Contents/Key") {
		if k := strings.TrimSpace(el.Text()); k != "" {
			keys = append(keys, k)
		}
	}
	truncated := root.FindElement("//IsTruncated")
	if truncated == nil || !strings.EqualFold(strings.TrimSpace(truncated.Text()), "true") {
		return keys, "", nil
	}
	if nm := root.FindElement("//NextMarker"); nm != nil && strings.TrimSpace(nm.Text()) != "" {
		return keys, strings.TrimSpace(nm.Text()), nil
	}
	if len(keys) == 0 {
		return keys, "", nil
	}
	return keys, keys[len(keys)-1], nil
}
