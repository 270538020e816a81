package platform

import (
	"net/url"
	"strings"
)

// Platform identifies the short-video site a submission link points at.
type Platform string

const (
	TikTok    Platform = "tiktok"
	YouTube   Platform = "youtube"
	Instagram Platform = "instagram"
	Other     Platform = "other"
)

// FromURL classifies a link by its host. Unparseable links and unknown hosts
// map to Other rather than an error; the verifier decides what to do with them.
func FromURL(raw string) Platform {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Other
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case hasDomain(host, "tiktok.com"):
		return TikTok
	case hasDomain(host, "youtube.com"), hasDomain(host, "youtu.be"):
		return YouTube
	case hasDomain(host, "instagram.com"):
		return Instagram
	default:
		return Other
	}
}

// hasDomain matches the domain itself or any subdomain, never a substring
// elsewhere in the host (evil-tiktok.com.attacker.net does not match).
func hasDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (p Platform) Known() bool {
	return p == TikTok || p == YouTube || p == Instagram
}

func (p Platform) String() string { return string(p) }
