package httpclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
)

const basicPrefix = "Basic"

// PreparedRequest is a step with every placeholder resolved.
type PreparedRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	ContentType string
	// PostData is the resolved body as text, before any multipart encoding
	PostData string
}

// MissingFileError is returned when a step references a file no earlier step saved.
type MissingFileError struct {
	Name string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s could not be found in the locally saved files", e.Name)
}

// RequestBuilder resolves manifest steps into requests.
type RequestBuilder struct{}

// NewRequestBuilder creates a new request builder
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{}
}

// Build resolves step against ns. Step headers replace the manifest defaults when present.
// Files are looked up in files by saved name. Errors are *TransportError or *MissingFileError;
// in both cases the returned request is still populated as far as it could be resolved.
func (b *RequestBuilder) Build(step models.Step, defaultHeaders map[string]string, ns *placeholders.Namespace, files map[string][]byte) (*PreparedRequest, error) {
	prepared := &PreparedRequest{
		Method: step.HTTPMethod(),
		URL:    ns.Replace(step.URL),
	}

	headerSource := step.Headers
	if len(headerSource) == 0 {
		headerSource = defaultHeaders
	}
	prepared.Headers = b.resolveHeaders(headerSource, ns)

	body, payload, err := b.resolveBody(step, ns)
	prepared.PostData = body
	if err != nil {
		return prepared, err
	}

	if len(step.Files) > 0 {
		multipartBody, contentType, err := b.multipart(step.Files, files, payload)
		if err != nil {
			return prepared, err
		}
		prepared.Body = multipartBody
		prepared.ContentType = contentType
	} else if step.Data != nil {
		prepared.Body = []byte(bodyText(payload, body, step.CastDataToJSON))
		if step.CastDataToJSON {
			prepared.ContentType = "application/json"
		}
	}

	if err := validateURL(prepared.URL); err != nil {
		return prepared, err
	}
	for key, value := range prepared.Headers {
		if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
			return prepared, newTransportError(KindInvalidHeader, fmt.Errorf("invalid header %q", key))
		}
	}

	return prepared, nil
}

func (b *RequestBuilder) resolveHeaders(source map[string]string, ns *placeholders.Namespace) map[string]string {
	headers := make(map[string]string, len(source))
	for key, value := range source {
		if key == "Authorization" && strings.HasPrefix(value, basicPrefix) {
			credential := ""
			if parts := strings.SplitN(value, " ", 2); len(parts) == 2 {
				credential = ns.Replace(parts[1])
			}
			encoded := base64.StdEncoding.EncodeToString([]byte(credential))
			ns.RegisterSecret(key, credential)
			ns.RegisterSecret(key, encoded)
			headers[ns.Replace(key)] = basicPrefix + " " + encoded
			continue
		}
		headers[ns.Replace(key)] = ns.Replace(value)
	}
	return headers
}

// resolveBody encodes step data as JSON text, substitutes placeholders in it and,
// when cast_data_to_json is set, decodes the result again.
func (b *RequestBuilder) resolveBody(step models.Step, ns *placeholders.Namespace) (string, any, error) {
	if step.Data == nil {
		return "", nil, nil
	}

	raw, err := json.Marshal(step.Data)
	if err != nil {
		return "", nil, newTransportError(KindInvalidJSON, err)
	}
	text := ns.Replace(string(raw))

	if !step.CastDataToJSON {
		return text, nil, nil
	}

	payload, err := DecodeJSON([]byte(text))
	if err != nil {
		return text, nil, newTransportError(KindInvalidJSON, err)
	}
	return text, payload, nil
}

// bodyText is what gets sent for a non-multipart request. A payload that decoded to a
// JSON string is sent as that string.
func bodyText(payload any, text string, cast bool) string {
	if !cast {
		return text
	}
	if s, ok := payload.(string); ok {
		return s
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(encoded)
}

func (b *RequestBuilder) multipart(fields map[string]string, saved map[string][]byte, payload any) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if values, ok := payload.(map[string]any); ok {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writer.WriteField(k, expressions.Stringify(values[k])); err != nil {
				return nil, "", newTransportError(KindUnexpected, err)
			}
		}
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	for _, field := range names {
		fileName := fields[field]
		content, ok := saved[fileName]
		if !ok {
			return nil, "", &MissingFileError{Name: fileName}
		}
		part, err := writer.CreateFormFile(field, fileName)
		if err != nil {
			return nil, "", newTransportError(KindUnexpected, err)
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", newTransportError(KindUnexpected, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", newTransportError(KindUnexpected, err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return newTransportError(KindInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newTransportError(KindInvalidURL, fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}
	if parsed.Host == "" {
		return newTransportError(KindInvalidURL, fmt.Errorf("missing host"))
	}
	return nil
}
