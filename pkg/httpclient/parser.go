package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseResponse decodes the body as JSON when it is JSON, whatever the content type says.
// Numbers are kept as json.Number so large identifiers survive unchanged.
func ParseResponse(resp *Response) {
	resp.JSON = nil
	resp.IsJSON = false

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 {
		return
	}

	value, err := DecodeJSON(trimmed)
	if err != nil {
		return
	}
	resp.JSON = value
	resp.IsJSON = true
}

// DecodeJSON decodes a single JSON document, rejecting trailing data.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON document")
	}
	return value, nil
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// StatusClass buckets a status code for metrics labels, "0" for no response.
func StatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "0"
	}
	return fmt.Sprintf("%dxx", statusCode/100)
}
