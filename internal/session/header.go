// Package session resolves which cart a request belongs to.
//
// Script clients send a Storefront-Session header; browser navigations
// (including gateway returns) only carry the cart_id cookie.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// HeaderName is the client session header.
const HeaderName = "Storefront-Session"

// Client is what the session header declares.
type Client struct {
	CartID  string
	Version string
}

// ParseHeader parses the Storefront-Session header, an RFC 8941 dictionary.
// Format: cart="<id>", version="v1.4.0".
//
// Examples:
//   - cart="3f0c…"                  → cart only, no version gate
//   - cart="3f0c…", version="1.4.0" → both
//   - version="v1.4.0";build=7      → parameters ignored
//
// Both members are optional; unknown members are ignored.
func ParseHeader(header string) (Client, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Client{}, errors.New("empty " + HeaderName + " header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Client{}, fmt.Errorf("invalid %s header: %w", HeaderName, err)
	}

	var c Client
	if c.CartID, err = stringMember(dict, "cart"); err != nil {
		return Client{}, err
	}
	if c.Version, err = stringMember(dict, "version"); err != nil {
		return Client{}, err
	}
	return c, nil
}

// stringMember reads a string or token member. A missing member is "".
func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	switch v := item.Value.(type) {
	case string:
		return v, nil
	case httpsfv.Token:
		return string(v), nil
	default:
		return "", fmt.Errorf("%s value must be a string", key)
	}
}
