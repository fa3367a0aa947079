package session

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Error codes returned to clients.
const (
	CodeVersionUnsupported = "client_version_unsupported"
	CodeInvalidVersion     = "invalid_client_version"
	CodeInvalidSession     = "invalid_session"
)

// VersionError is returned when a client is older than the minimum.
type VersionError struct {
	Code          string
	Message       string
	ClientVersion string
	MinVersion    string
}

func (e *VersionError) Error() string {
	return e.Message
}

// CheckVersion reports whether client may talk to this service. An empty
// minimum or an empty client version passes: browsers never send one.
func CheckVersion(minVersion, client string) error {
	if minVersion == "" || client == "" {
		return nil
	}

	cv := normalizeVersion(client)
	if !semver.IsValid(cv) {
		return &VersionError{
			Code:          CodeInvalidVersion,
			Message:       fmt.Sprintf("client version %q is not a semantic version", client),
			ClientVersion: client,
			MinVersion:    minVersion,
		}
	}

	// Clients before the minimum build the gateway redirect themselves and
	// cannot follow a POST form.
	if semver.Compare(cv, normalizeVersion(minVersion)) < 0 {
		return &VersionError{
			Code:          CodeVersionUnsupported,
			Message:       fmt.Sprintf("client version %s is older than the minimum %s", client, minVersion),
			ClientVersion: client,
			MinVersion:    minVersion,
		}
	}
	return nil
}

// normalizeVersion adds the "v" prefix semver requires.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
