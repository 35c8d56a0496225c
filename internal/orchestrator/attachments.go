package orchestrator

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/store"
)

// promptWithAttachments builds the run prompt from the message text plus the
// content of every .txt attachment. An attachment that cannot be fetched is
// logged and skipped; the run continues on the remaining content.
func (s *Service) promptWithAttachments(ctx context.Context, msg store.Message, log *zap.Logger) string {
	prompt := msg.Text
	for _, file := range msg.Files {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".txt") {
			continue
		}
		content, err := s.fetchAttachment(ctx, file.URL)
		if err != nil {
			log.Warn("attachment fetch failed, skipping",
				zap.String("file", file.Name), zap.Error(err))
			continue
		}
		prompt += "\n\n" + content
	}
	return prompt
}

// fetchAttachment downloads an attachment body. Setting Accept-Encoding
// disables the transport's transparent decompression, so both gzip and
// brotli responses are decoded here.
func (s *Service) fetchAttachment(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "building attachment request", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "fetching attachment", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", apperr.Newf(apperr.KindUpstreamHTTP, "attachment fetch returned %d for %s", resp.StatusCode, url)
	}

	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", apperr.Wrap(apperr.KindUpstreamHTTP, "decoding gzip attachment", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamHTTP, "reading attachment body", err)
	}
	return string(body), nil
}
