package metadata

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrArgumentMissing is returned when the address or fetcher is absent.
	ErrArgumentMissing = errors.New("metadata address and fetcher are required")

	// ErrParseFailure is returned when a document was retrieved but could not
	// be decoded.
	ErrParseFailure = errors.New("metadata document could not be parsed")

	// ErrFetchFailure is returned when a document could not be retrieved from
	// its source.
	ErrFetchFailure = errors.New("metadata document could not be fetched")
)

// StatusError reports a non-success HTTP response from the metadata source.
// It matches ErrFetchFailure.
type StatusError struct {
	Address    string
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned HTTP %d", ErrFetchFailure, e.Address, e.StatusCode)
}

func (e StatusError) Is(target error) bool {
	return target == ErrFetchFailure
}

func (e StatusError) Status() (int, string) {
	return http.StatusBadGateway, "identity provider metadata unavailable"
}
