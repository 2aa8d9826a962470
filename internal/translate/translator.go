// Package translate implements the best-effort translation collaborator.
// Assistant replies are optionally translated into a configured target
// language before being persisted. Translation never fails a chat turn: any
// timeout, transport error, or unusable response simply yields the input
// text unchanged.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

// maxResponseBytes caps how much of a translation reply is read.
const maxResponseBytes = 1 << 20

// Client posts to a LibreTranslate-compatible endpoint.
type Client struct {
	// URL is the full translate endpoint, e.g. "http://translate:5000/translate".
	URL string
	// Target is the language replies are translated into.
	Target language.Tag
	// HTTPClient carries the request timeout.
	HTTPClient *http.Client

	// Retries is how many extra attempts a failed request gets.
	Retries int
}

// New constructs a Client. An empty url disables translation: Translate
// becomes the identity function.
func New(url string, target language.Tag, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		URL:        url,
		Target:     target,
		HTTPClient: &http.Client{Timeout: timeout},
		Retries:    1,
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate returns text rendered in the target language, or the input
// unchanged when translation is disabled, unnecessary, or failing.
func (c *Client) Translate(ctx context.Context, text string) string {
	if c == nil || c.URL == "" || c.Target == language.Und {
		return text
	}
	if !isCandidate(text) {
		return text
	}

	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: "auto",
		Target: c.Target.String(),
	})
	if err != nil {
		return text
	}

	for attempt := 0; attempt <= c.Retries; attempt++ {
		out, err := c.post(ctx, body)
		if err == nil && strings.TrimSpace(out) != "" {
			return out
		}
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("translation attempt failed")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return text
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}

	var tr translateResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", err
	}
	return tr.TranslatedText, nil
}

// statusError reports a non-200 translate response.
type statusError struct{ code int }

func (e *statusError) Error() string { return "translate endpoint returned " + http.StatusText(e.code) }

// isCandidate reports whether text looks worth translating. Replies that
// already contain non-ASCII letters are assumed to be in the target script
// and are left alone.
func isCandidate(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, r := range text {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
