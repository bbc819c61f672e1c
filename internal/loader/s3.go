package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pdfchat/internal/pkg/pdfextract"
)

// ObjectLoader fetches PDF objects over HTTPS and extracts their text.
// S3-style locators are resolved to a fetchable URL first.
type ObjectLoader struct {
	httpClient *http.Client
	maxPDFSize int64
}

func NewObjectLoader(timeout time.Duration, maxPDFSize int64) *ObjectLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxPDFSize <= 0 {
		maxPDFSize = 20 << 20
	}
	return &ObjectLoader{
		httpClient: &http.Client{Timeout: timeout},
		maxPDFSize: maxPDFSize,
	}
}

func (l *ObjectLoader) Load(ctx context.Context, locator string) (string, error) {
	fetchURL, err := ResolveURL(locator)
	if err != nil {
		return "", permanentLoadError("resolve locator", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", permanentLoadError("build request", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", transientLoadError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail := fmt.Sprintf("fetch status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= 500 {
			return "", transientLoadError(detail, nil)
		}
		return "", permanentLoadError(detail, nil)
	}

	text, err := pdfextract.ExtractText(resp.Body, l.maxPDFSize)
	if err != nil {
		return "", permanentLoadError("extract text", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", permanentLoadError("no extractable text", nil)
	}
	return text, nil
}

// ParseS3URL splits an S3-style locator into bucket and key. Supported
// layouts:
//
//	s3://bucket-name/path/to/object
//	https://bucket-name.s3.amazonaws.com/path/to/object
//	https://s3.amazonaws.com/bucket-name/path/to/object
func ParseS3URL(s3URL string) (bucket, key string, err error) {
	if strings.HasPrefix(s3URL, "s3://") {
		rest := strings.TrimPrefix(s3URL, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		bucket = parts[0]
		if len(parts) > 1 {
			key = parts[1]
		}
		if bucket == "" || key == "" {
			return "", "", fmt.Errorf("invalid s3 url %q", s3URL)
		}
		return bucket, key, nil
	}

	parsed, parseErr := url.Parse(s3URL)
	if parseErr != nil {
		return "", "", fmt.Errorf("invalid s3 url %q: %v", s3URL, parseErr)
	}
	host := parsed.Host
	path := strings.TrimPrefix(parsed.Path, "/")

	if !strings.HasSuffix(host, "amazonaws.com") {
		return "", "", fmt.Errorf("not an s3 url %q", s3URL)
	}

	labels := strings.Split(host, ".")
	if labels[0] == "s3" {
		// Path-style: https://s3.amazonaws.com/bucket/key
		parts := strings.SplitN(path, "/", 2)
		bucket = parts[0]
		if len(parts) > 1 {
			key = parts[1]
		}
	} else {
		// Virtual-hosted style: https://bucket.s3.amazonaws.com/key
		bucket = labels[0]
		key = path
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", s3URL)
	}
	return bucket, key, nil
}

// ResolveURL maps a locator to a fetchable HTTPS URL. s3:// locators become
// virtual-hosted S3 URLs; http(s) locators pass through unchanged.
func ResolveURL(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	switch {
	case locator == "":
		return "", fmt.Errorf("empty locator")
	case strings.HasPrefix(locator, "s3://"):
		bucket, key, err := ParseS3URL(locator)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key), nil
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return locator, nil
	default:
		return "", fmt.Errorf("unsupported locator scheme in %q", locator)
	}
}
