package sharedbag

import (
	"regexp"
	"strings"
)

const DefaultExplorerURL = "https://base.blockscout.com"

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

func IsENSName(s string) bool {
	return strings.HasSuffix(strings.ToLower(s), ".eth")
}

// IsEmail matches local@domain.tld with no whitespace and a single @.
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ExplorerURL builds a block explorer link. kind defaults to "address".
func ExplorerURL(base string, kind LinkKind, id string) string {
	if base == "" {
		base = DefaultExplorerURL
	}
	if kind == "" {
		kind = LinkAddress
	}
	return strings.TrimSuffix(base, "/") + "/" + string(kind) + "/" + id
}
