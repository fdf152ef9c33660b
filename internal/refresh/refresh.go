// Package refresh downloads the CloudFormation resource specification, trims
// it to the resource types AWS Config supports and publishes the result as a
// dated source object for the pipeline.
package refresh

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/specsearch/internal/objstore"
)

// ConfigDocURL is the AWS Config developer-guide page listing supported
// resource types.
const ConfigDocURL = "https://docs.aws.amazon.com/config/latest/developerguide/resource-config-reference.html"

// SpecURLs maps regions to their CloudFormation resource-specification
// download, from the CloudFormation documentation table.
var SpecURLs = map[string]string{
	"eu-west-2": "https://d1742qcu2c1ncx.cloudfront.net/latest/gzip/CloudFormationResourceSpecification.json",
	"us-east-1": "https://d1uauaxba7bl26.cloudfront.net/latest/gzip/CloudFormationResourceSpecification.json",
}

var typePattern = regexp.MustCompile(`AWS::[A-Za-z0-9]+::[A-Za-z0-9]+`)

// Refresher fetches, filters and stores the specification document.
type Refresher struct {
	Bucket       objstore.Bucket
	HTTP         *http.Client
	SpecURL      string
	ConfigDocURL string
	Region       string
	Prefix       string

	// Now is replaceable for tests.
	Now func() time.Time
}

// Result reports where the trimmed specification landed.
type Result struct {
	Key               string `json:"key"`
	KeptResourceTypes int    `json:"kept_resource_types"`
}

// New creates a Refresher for the given region writing under prefix.
func New(bucket objstore.Bucket, region, prefix string) (*Refresher, error) {
	specURL, ok := SpecURLs[region]
	if !ok {
		return nil, fmt.Errorf("refresh: no specification URL for region %q", region)
	}
	return &Refresher{
		Bucket:       bucket,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		SpecURL:      specURL,
		ConfigDocURL: ConfigDocURL,
		Region:       region,
		Prefix:       prefix,
		Now:          time.Now,
	}, nil
}

// Run executes one refresh: download the full specification, scrape the
// supported types, filter and upload.
func (r *Refresher) Run(ctx context.Context) (Result, error) {
	spec, err := r.fetch(ctx, r.SpecURL)
	if err != nil {
		return Result{}, fmt.Errorf("refresh: fetch specification: %w", err)
	}

	page, err := r.fetch(ctx, r.ConfigDocURL)
	if err != nil {
		return Result{}, fmt.Errorf("refresh: fetch supported types: %w", err)
	}
	keep := supportedTypes(page)
	if len(keep) == 0 {
		return Result{}, fmt.Errorf("refresh: no resource types found at %s", r.ConfigDocURL)
	}

	trimmed, kept, err := filterSpec(spec, keep)
	if err != nil {
		return Result{}, fmt.Errorf("refresh: filter specification: %w", err)
	}

	key := fmt.Sprintf("%sconfig_resource_spec_%s_%s.json",
		r.Prefix, r.Region, r.Now().UTC().Format("2006-01-02"))
	if err := r.Bucket.Put(ctx, key, trimmed, "application/json; charset=utf-8"); err != nil {
		return Result{}, fmt.Errorf("refresh: store %s: %w", key, err)
	}

	log.Info().Str("key", key).Int("kept_types", kept).Msg("specification refreshed")
	return Result{Key: key, KeptResourceTypes: kept}, nil
}

// fetch downloads a URL, transparently decompressing gzip payloads (the
// CloudFront specification link serves gzip bytes).
func (r *Refresher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if gz, err := gzip.NewReader(bytes.NewReader(data)); err == nil {
		if plain, err := io.ReadAll(gz); err == nil {
			return plain, nil
		}
	}
	return data, nil
}

// supportedTypes scrapes every AWS::Service::Type occurrence from the
// reference page.
func supportedTypes(page []byte) map[string]bool {
	keep := map[string]bool{}
	for _, m := range typePattern.FindAll(page, -1) {
		keep[string(m)] = true
	}
	return keep
}

// filterSpec slices the specification down to the kept resource types and
// the property types owned by them (matched on the pre-dot prefix).
func filterSpec(spec []byte, keep map[string]bool) ([]byte, int, error) {
	var doc struct {
		ResourceTypes map[string]json.RawMessage `json:"ResourceTypes"`
		PropertyTypes map[string]json.RawMessage `json:"PropertyTypes"`
	}
	if err := json.Unmarshal(spec, &doc); err != nil {
		return nil, 0, err
	}

	res := map[string]json.RawMessage{}
	for k, v := range doc.ResourceTypes {
		if keep[k] {
			res[k] = v
		}
	}
	prop := map[string]json.RawMessage{}
	for k, v := range doc.PropertyTypes {
		prefix := k
		if i := bytes.IndexByte([]byte(k), '.'); i >= 0 {
			prefix = k[:i]
		}
		if keep[prefix] {
			prop[k] = v
		}
	}

	out, err := json.MarshalIndent(map[string]any{
		"ResourceTypes": res,
		"PropertyTypes": prop,
	}, "", "  ")
	if err != nil {
		return nil, 0, err
	}
	return out, len(res), nil
}
