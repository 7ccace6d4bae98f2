package utils

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"oa-worksheets/pkg/logger"

	"github.com/sirupsen/logrus"
)

const maxLoggedBody = 4096

var (
	sensitiveHeaders = []string{"authorization", "x-api-key", "x-auth-token", "cookie", "x-csrftoken"}

	sensitiveJSONField = regexp.MustCompile(`(?i)("(?:api_key|apikey|password|secret|token)"\s*:\s*)"[^"]*"`)
)

// DebugTransport logs outbound requests with credentials redacted. With
// debugging off it only forwards to the base transport.
type DebugTransport struct {
	base    http.RoundTripper
	name    string
	enabled bool
}

func NewDebugTransport(base http.RoundTripper, name string, enabled bool) *DebugTransport {
	if base == nil {
		base = NewTransport()
	}
	return &DebugTransport{base: base, name: name, enabled: enabled}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.enabled {
		return t.base.RoundTrip(req)
	}

	entry := logger.WithFields(map[string]interface{}{
		"client": t.name,
		"method": req.Method,
		"url":    req.URL.String(),
	})
	t.logRequest(entry, req)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		entry.WithError(err).Error("request failed")
		return nil, err
	}
	entry.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("response received")
	return resp, nil
}

func (t *DebugTransport) logRequest(entry *logrus.Entry, req *http.Request) {
	headers := make(logrus.Fields, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers[name] = "[REDACTED]"
		} else {
			headers[name] = strings.Join(values, ", ")
		}
	}
	entry = entry.WithField("headers", headers)

	if req.Body == nil || req.Body == http.NoBody {
		entry.Debug("request")
		return
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		entry.WithError(err).Warn("failed to read request body")
		req.Body = io.NopCloser(bytes.NewReader(nil))
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	entry.WithField("size", len(body)).Debugf("request body: %s", RedactBody(body))
}

// RedactBody masks credential-like JSON fields and caps the length.
func RedactBody(body []byte) string {
	if len(body) == 0 {
		return "(empty)"
	}
	out := sensitiveJSONField.ReplaceAllString(string(body), `$1"[REDACTED]"`)
	if len(out) > maxLoggedBody {
		out = out[:maxLoggedBody] + "...(truncated)"
	}
	return out
}

func isSensitiveHeader(name string) bool {
	for _, h := range sensitiveHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
