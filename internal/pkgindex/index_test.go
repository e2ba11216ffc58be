package pkgindex

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ideinfo/internal/config"
)

type fakeGetter struct {
	pages map[string]string // marker -> body
	err   error
	calls []url.Values
}

func (f *fakeGetter) GetText(_ context.Context, _ string, q url.Values) (string, error) {
	f.calls = append(f.calls, q)
	if f.err != nil {
		return "", f.err
	}
	return f.pages[q.Get("marker")], nil
}

func TestMirrorTakesHighestVersion(t *testing.T) {
	t.Parallel()
	body := "Package: ide50\nVersion: 138\n\nPackage: ide50\nVersion: 141\n\nPackage: ide50\nVersion: 12a\n"
	m := &Mirror{URL: "http://mirror/Packages", Client: &fakeGetter{pages: map[string]string{"": body}}}

	cases := []struct {
		watermark int
		want      int
		found     bool
	}{
		{0, 141, true},
		{141, 141, true},
		{142, 0, false},
	}
	for _, tc := range cases {
		v, found, err := m.Latest(context.Background(), tc.watermark)
		if err != nil {
			t.Fatalf("watermark %d: %v", tc.watermark, err)
		}
		if v != tc.want || found != tc.found {
			t.Fatalf("watermark %d: got (%d,%v) want (%d,%v)", tc.watermark, v, found, tc.want, tc.found)
		}
	}
}

func TestMirrorPropagatesFetchError(t *testing.T) {
	t.Parallel()
	m := &Mirror{URL: "http://mirror", Client: &fakeGetter{err: errors.New("boom")}}
	if _, _, err := m.Latest(context.Background(), 0); err == nil {
		t.Fatalf("expected error")
	}
}

const page1 = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>mirror</Name>
  <Prefix>ide50/</Prefix>
  <IsTruncated>true</IsTruncated>
  <Contents><Key>ide50/ide50_7_all.deb</Key></Contents>
  <Contents><Key>ide50/README</Key></Contents>
  <Contents><Key>ide50/ide50_9_all.deb</Key></Contents>
</ListBucketResult>`

const page2 = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>ide50/ide50_11_all.deb</Key></Contents>
</ListBucketResult>`

func TestListingFollowsMarkers(t *testing.T) {
	t.Parallel()
	re, err := CompilePattern("")
	if err != nil {
		t.Fatal(err)
	}
	g := &fakeGetter{pages: map[string]string{"": page1, "ide50/ide50_9_all.deb": page2}}
	l := &Listing{URL: "http://bucket/", Prefix: "ide50/", Pattern: re, Client: g}

	v, found, err := l.Latest(context.Background(), 8)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !found || v != 11 {
		t.Fatalf("got (%d,%v)", v, found)
	}
	if len(g.calls) != 2 || g.calls[0].Get("prefix") != "ide50/" {
		t.Fatalf("calls=%v", g.calls)
	}
}

func TestListingRejectsGarbage(t *testing.T) {
	t.Parallel()
	re, _ := CompilePattern("")
	l := &Listing{URL: "http://bucket/", Pattern: re, Client: &fakeGetter{pages: map[string]string{"": "<<nope"}}}
	if _, _, err := l.Latest(context.Background(), 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCompilePatternNeedsGroup(t *testing.T) {
	t.Parallel()
	if _, err := CompilePattern(`\.deb$`); err == nil {
		t.Fatalf("expected error for pattern without group")
	}
}

type fakeS3 struct {
	pages [][]string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	i := 0
	if in.ContinuationToken != nil {
		i = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[i] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if i+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + i + 1)))
	}
	return out, nil
}

func TestS3Paginates(t *testing.T) {
	t.Parallel()
	re, _ := CompilePattern("")
	x := &S3{
		Bucket:  "mirror",
		Pattern: re,
		Client:  &fakeS3{pages: [][]string{{"p/ide50_3_all.deb"}, {"p/ide50_5_all.deb", "p/other"}}},
	}
	v, found, err := x.Latest(context.Background(), 0)
	if err != nil || !found || v != 5 {
		t.Fatalf("got (%d,%v,%v)", v, found, err)
	}
}

func TestOpenNone(t *testing.T) {
	t.Parallel()
	idx, err := Open(context.Background(), config.IndexConfig{Channel: "none"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, found, _ := idx.Latest(context.Background(), 0); found {
		t.Fatalf("none channel should never find")
	}
	if _, err := Open(context.Background(), config.IndexConfig{Channel: "ftp"}, nil); err == nil {
		t.Fatalf("expected unknown channel error")
	}
}
