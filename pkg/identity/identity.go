// Package identity classifies raw conversation addresses and extracts the
// stable external identifier used as the authorization lookup key.
//
// It is a pure function of the address string: no network, no state.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Address suffix forms used by the transport network.
const (
	directSuffix = "@s.whatsapp.net"
	linkedSuffix = "@lid"
	groupSuffix  = "@g.us"
)

// Kind classifies a conversation address.
type Kind int

const (
	KindUnknown Kind = iota
	KindDirect
	KindLinkedDevice
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindLinkedDevice:
		return "linked-device"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// ErrGroupAddress marks group conversation addresses, which never resolve to
// a single external identifier.
var ErrGroupAddress = errors.New("group address has no external identifier")

// ErrUnknownAddress marks addresses with an unrecognized suffix form.
var ErrUnknownAddress = errors.New("unrecognized address form")

// ErrEmptyIdentifier marks addresses whose identifier portion is empty.
var ErrEmptyIdentifier = errors.New("empty identifier in address")

// Identity is the resolved lookup key for a conversation address.
type Identity struct {
	ExternalID string
	Kind       Kind
}

// Classify reports the address kind without extracting an identifier.
func Classify(address string) Kind {
	switch {
	case strings.HasSuffix(address, directSuffix):
		return KindDirect
	case strings.HasSuffix(address, linkedSuffix):
		return KindLinkedDevice
	case strings.HasSuffix(address, groupSuffix):
		return KindGroup
	default:
		return KindUnknown
	}
}

// Resolve maps a raw conversation address to its external identifier.
//
// Direct addresses strip the suffix and any ":device" multiplexing segment,
// yielding a phone-number-like string. Linked-device identifiers are opaque
// and pass through verbatim. Group addresses never resolve.
func Resolve(address string) (Identity, error) {
	switch Classify(address) {
	case KindDirect:
		id := strings.TrimSuffix(address, directSuffix)
		if i := strings.IndexByte(id, ':'); i >= 0 {
			id = id[:i]
		}
		if id == "" {
			return Identity{}, fmt.Errorf("resolve %q: %w", address, ErrEmptyIdentifier)
		}
		return Identity{ExternalID: id, Kind: KindDirect}, nil

	case KindLinkedDevice:
		id := strings.TrimSuffix(address, linkedSuffix)
		if id == "" {
			return Identity{}, fmt.Errorf("resolve %q: %w", address, ErrEmptyIdentifier)
		}
		return Identity{ExternalID: id, Kind: KindLinkedDevice}, nil

	case KindGroup:
		return Identity{}, fmt.Errorf("resolve %q: %w", address, ErrGroupAddress)

	default:
		return Identity{}, fmt.Errorf("resolve %q: %w", address, ErrUnknownAddress)
	}
}
