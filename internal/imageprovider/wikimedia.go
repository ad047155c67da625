// Package imageprovider fetches bird images for detected species and
// publishes the most recent one to a fixed path for display consumers.
package imageprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aviarylab/birdstation/internal/errors"
)

const (
	wikiProviderName = "wikimedia"
	commonsAPIURL    = "https://commons.wikimedia.org/w/api.php"

	// User-Agent constants following Wikimedia robot policy
	// https://foundation.wikimedia.org/wiki/Policy:Wikimedia_Foundation_User-Agent_Policy
	userAgentName    = "BirdStation"
	userAgentContact = "https://github.com/aviarylab/birdstation"
	userAgentLibrary = "Go-HTTP-Client"
)

// ImageProvider resolves a species name to image bytes.
type ImageProvider interface {
	Fetch(scientificName string) (*BirdImage, error)
}

// BirdImage is a fetched species image.
type BirdImage struct {
	ScientificName string
	SourceURL      string
	MIMEType       string
	Data           []byte
}

// wikiMediaProvider fetches images from Wikimedia Commons using the
// search generator, taking the top file hit for the species name.
type wikiMediaProvider struct {
	httpClient *http.Client
	apiURL     string
	userAgent  string
	limiter    *rate.Limiter
	maxRetries int
	debug      bool
}

// NewWikiMediaProvider creates a Wikimedia Commons backed provider.
func NewWikiMediaProvider(version string, debug bool) ImageProvider {
	return &wikiMediaProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     commonsAPIURL,
		userAgent:  buildUserAgent(version),
		// Commons asks automated clients to stay well under their
		// throttling thresholds.
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		maxRetries: 3,
		debug:      debug,
	}
}

// buildUserAgent constructs a user-agent string that complies with
// Wikimedia's robot policy.
// Format: <client name>/<version> (<contact information>) <library>/<version>
func buildUserAgent(appVersion string) string {
	if appVersion == "" {
		appVersion = "unknown"
	}
	return fmt.Sprintf("%s/%s (%s) %s/%s",
		userAgentName, appVersion, userAgentContact, userAgentLibrary, runtime.Version())
}

// Fetch resolves the species to its top Commons file hit and downloads a
// display-sized rendition.
func (p *wikiMediaProvider) Fetch(scientificName string) (*BirdImage, error) {
	reqID := uuid.New().String()[:8]

	imageURL, mimeType, err := p.queryImageURL(reqID, scientificName)
	if err != nil {
		return nil, err
	}

	data, err := p.download(reqID, imageURL)
	if err != nil {
		return nil, err
	}

	return &BirdImage{
		ScientificName: scientificName,
		SourceURL:      imageURL,
		MIMEType:       mimeType,
		Data:           data,
	}, nil
}

// queryImageURL asks the Commons API for the first file matching the
// species name and returns its scaled thumbnail URL and MIME type.
func (p *wikiMediaProvider) queryImageURL(reqID, scientificName string) (imageURL, mimeType string, err error) {
	params := url.Values{
		"action":       {"query"},
		"format":       {"json"},
		"generator":    {"search"},
		"gsrsearch":    {scientificName},
		"gsrnamespace": {"6"},
		"gsrlimit":     {"1"},
		"prop":         {"imageinfo"},
		"iiprop":       {"url|mime"},
		"iiurlwidth":   {"500"},
	}

	body, err := p.getWithRetry(reqID, p.apiURL+"?"+params.Encode())
	if err != nil {
		return "", "", err
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return "", "", errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryImageFetch).
			Context("provider", wikiProviderName).
			Context("request_id", reqID).
			Context("operation", "parse_query_response").
			Build()
	}

	pages, err := root.GetObject("query", "pages")
	if err != nil {
		// The API omits "query" entirely when the search has no hits.
		return "", "", errors.Newf("no Commons image found for species").
			Component("imageprovider").
			Category(errors.CategoryNotFound).
			Context("provider", wikiProviderName).
			Context("request_id", reqID).
			Context("species", scientificName).
			Build()
	}

	for _, page := range pages.Map() {
		pageObj, objErr := page.Object()
		if objErr != nil {
			continue
		}
		infos, infoErr := pageObj.GetObjectArray("imageinfo")
		if infoErr != nil || len(infos) == 0 {
			continue
		}
		if thumb, thumbErr := infos[0].GetString("thumburl"); thumbErr == nil && thumb != "" {
			imageURL = thumb
		} else {
			imageURL, _ = infos[0].GetString("url")
		}
		mimeType, _ = infos[0].GetString("mime")
		break
	}

	if imageURL == "" {
		return "", "", errors.Newf("Commons search hit carried no image URL").
			Component("imageprovider").
			Category(errors.CategoryNotFound).
			Context("provider", wikiProviderName).
			Context("request_id", reqID).
			Context("species", scientificName).
			Build()
	}

	return imageURL, mimeType, nil
}

// download retrieves the image bytes.
func (p *wikiMediaProvider) download(reqID, imageURL string) ([]byte, error) {
	return p.getWithRetry(reqID, imageURL)
}

// getWithRetry performs a rate-limited GET with a bounded retry budget.
func (p *wikiMediaProvider) getWithRetry(reqID, fullURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := p.limiter.Wait(context.Background()); err != nil {
			return nil, err
		}

		body, err := p.get(fullURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attempt < p.maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return nil, errors.New(lastErr).
		Component("imageprovider").
		Category(errors.CategoryImageFetch).
		Context("provider", wikiProviderName).
		Context("request_id", reqID).
		Context("url", fullURL).
		Context("max_retries", p.maxRetries).
		Build()
}

func (p *wikiMediaProvider) get(fullURL string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
