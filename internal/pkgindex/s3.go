package pkgindex

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 lists a public bucket anonymously.
type S3 struct {
	Bucket  string
	Prefix  string
	Pattern *regexp.Regexp
	Client  s3.ListObjectsV2APIClient
}

type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	Pattern  *regexp.Regexp
}

// NewS3 builds an anonymous client. Endpoint, when set, switches to
// path-style addressing for S3-compatible stores.
func NewS3(ctx context.Context, o S3Options) (*S3, error) {
	region := o.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
			opts.UsePathStyle = true
		}
	})
	return &S3{Bucket: o.Bucket, Prefix: o.Prefix, Pattern: o.Pattern, Client: client}, nil
}

func (x *S3) Latest(ctx context.Context, watermark int) (int, bool, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(x.Bucket)}
	if x.Prefix != "" {
		in.Prefix = aws.String(x.Prefix)
	}
	var v int
	var found bool
	p := s3.NewListObjectsV2Paginator(x.Client, in)
	for pages := 0; p.HasMorePages() && pages < maxListingPages; pages++ {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("list s3://%s: %w", x.Bucket, err)
		}
		for _, obj := range out.Contents {
			if s, ok := matchKey(x.Pattern, aws.ToString(obj.Key)); ok {
				v, found = best(v, found, s, watermark)
			}
		}
	}
	return v, found, nil
}
