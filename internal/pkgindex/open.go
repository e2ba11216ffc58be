package pkgindex

import (
	"context"
	"fmt"
	"strings"

	"ideinfo/internal/config"
)

// Open builds the Index selected by cfg.Channel.
func Open(ctx context.Context, cfg config.IndexConfig, client Getter) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Channel)) {
	case "", ChannelNone:
		return None{}, nil
	case ChannelMirror:
		return &Mirror{URL: cfg.URL, Client: client}, nil
	case ChannelListing:
		re, err := CompilePattern(cfg.Pattern)
		if err != nil {
			return nil, err
		}
		return &Listing{URL: cfg.URL, Prefix: cfg.Prefix, Pattern: re, Client: client}, nil
	case ChannelS3:
		re, err := CompilePattern(cfg.Pattern)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, S3Options{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   cfg.S3.Prefix,
			Pattern:  re,
		})
	default:
		return nil, fmt.Errorf("unknown index channel %q", cfg.Channel)
	}
}
