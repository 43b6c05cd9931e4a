package direction

import (
	"strings"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

// DomainOf extracts the lowercased domain portion of an email address,
// the substring after the last '@'. Malformed addresses (no '@', or
// nothing after it) yield an empty string, which never matches an owned
// domain.
func DomainOf(address string) string {
	idx := strings.LastIndex(address, "@")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(address[idx+1:])
}

// NormalizeDomains lowercases, trims, and deduplicates a domain list,
// dropping empty entries. First occurrence wins; order is otherwise
// preserved.
func NormalizeDomains(domains []string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" || seen[domain] {
			continue
		}
		seen[domain] = true
		result = append(result, domain)
	}
	return result
}

// Classify determines message direction from the sender and recipient
// addresses relative to the tenant's owned domains. A side is internal
// when its domain exactly equals one of the owned domains
// (case-insensitive, no subdomain matching):
//
//	internal -> internal  = Internal
//	internal -> external  = Outbound
//	external -> internal  = Inbound
//	external -> external  = Unknown
//
// With an empty owned-domain set every message classifies as Unknown,
// since no determination is possible without configuration. Total over
// all string inputs; never fails.
func Classify(sender, recipient string, ownedDomains []string) models.Direction {
	owned := make(map[string]bool, len(ownedDomains))
	for _, domain := range ownedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			owned[domain] = true
		}
	}

	senderInternal := owned[DomainOf(sender)]
	recipientInternal := owned[DomainOf(recipient)]

	switch {
	case senderInternal && recipientInternal:
		return models.DirectionInternal
	case senderInternal:
		return models.DirectionOutbound
	case recipientInternal:
		return models.DirectionInbound
	default:
		return models.DirectionUnknown
	}
}
