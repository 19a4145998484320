package importer

import "fmt"

// FailedPaginatedResponseError is returned when a page could not be fetched.
// Text is the sanitized failure, including the response body when there was one.
type FailedPaginatedResponseError struct {
	Text string
}

func (e *FailedPaginatedResponseError) Error() string {
	return e.Text
}

// KeyNotInDataError is returned when data_from does not resolve to a list in a page.
type KeyNotInDataError struct {
	Notation string
	Data     string
}

func (e *KeyNotInDataError) Error() string {
	return fmt.Sprintf("Notation '%s' not in %s", e.Notation, e.Data)
}

// DataNotJSONError is returned when a page body is not JSON.
type DataNotJSONError struct {
	Text string
}

func (e *DataNotJSONError) Error() string {
	return fmt.Sprintf("Response is not JSON: %s", e.Text)
}
