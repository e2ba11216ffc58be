package pkgindex

import (
	"context"
	"net/url"
)

// Getter is the slice of httpfetch.Client the HTTP channels need.
type Getter interface {
	GetText(ctx context.Context, rawURL string, query url.Values) (string, error)
}

// Mirror reads a Debian-style Packages file and takes the highest
// "Version: <n>" line.
type Mirror struct {
	URL    string
	Client Getter
}

func (m *Mirror) Latest(ctx context.Context, watermark int) (int, bool, error) {
	body, err := m.Client.GetText(ctx, m.URL, nil)
	if err != nil {
		return 0, false, err
	}
	var v int
	var found bool
	for _, sm := range mirrorVersion.FindAllStringSubmatch(body, -1) {
		v, found = best(v, found, sm[1], watermark)
	}
	return v, found, nil
}
