package handlers

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/importer"
)

// engineError maps run and import errors to API errors. Other errors pass through unchanged.
func engineError(err error) error {
	if err == nil {
		return nil
	}

	var notConfigured *execution.NotConfiguredError
	if errors.As(err, &notConfigured) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "integration is not configured: %s", notConfigured.Reason)
	}

	var (
		pageErr    *importer.FailedPaginatedResponseError
		keyErr     *importer.KeyNotInDataError
		notJSONErr *importer.DataNotJSONError
	)
	if errors.As(err, &pageErr) || errors.As(err, &keyErr) || errors.As(err, &notJSONErr) {
		return httperror.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return err
}
