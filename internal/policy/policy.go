// Package policy decides whether a label, record type, or record content is
// acceptable for registration. All checks are pure functions returning a
// bool; callers decide how a rejection is surfaced.
package policy

import (
	"net"
	"net/netip"
	"regexp"
	"strings"

	"github.com/miekg/dns"
)

const (
	maxLabelLen   = 63
	minLabelLen   = 4
	maxDomainLen  = 253
	maxTxtContent = 255
)

// Labels users may never register exactly. Mostly service names and
// security-sensitive prefixes that would make a leased name look official.
var exactBlockWords = map[string]struct{}{
	"www": {}, "api": {}, "dns": {}, "ns": {}, "ns1": {}, "ns2": {}, "ns3": {}, "ns4": {},
	"mx": {}, "mail": {}, "email": {}, "smtp": {}, "imap": {}, "pop": {}, "ftp": {}, "sftp": {}, "ssh": {},
	"dev": {}, "stg": {}, "prod": {}, "test": {}, "demo": {},
	"db": {}, "sql": {}, "server": {}, "client": {}, "cloud": {}, "network": {},
	"auth": {}, "login": {}, "signin": {}, "signup": {}, "register": {}, "password": {},
	"dashboard": {}, "config": {}, "manage": {}, "billing": {}, "payment": {}, "secure": {},
	"wpad": {}, "autodiscover": {}, "isatap": {}, "local": {}, "localhost": {},
	"noreply": {}, "abuse": {}, "support": {}, "helpdesk": {}, "ssl": {}, "cert": {}, ".well-known": {},
	"google": {}, "naver": {}, "kakao": {}, "aws": {}, "azure": {}, "apple": {}, "microsoft": {}, "help": {},
}

// Substrings blocked anywhere in a label: administrative role names and the
// service's own brand.
var containsBlockWords = []string{
	"admin", "administrator", "root", "system", "sysadmin",
	"master", "webmaster", "hostmaster", "postmaster",
	"nulldns", "subdns",
}

var (
	labelPattern        = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	relaxedLabelPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,63}$`)
)

// ValidType reports whether t is a record type users may manage.
func ValidType(t string) bool {
	switch strings.ToUpper(t) {
	case "A", "AAAA", "CNAME", "TXT":
		return true
	}
	return false
}

// ValidLabel reports whether the label may be registered as a subdomain.
// Privileged callers skip the reserved-word checks and the minimum length,
// keeping only the basic charset and length-63 limits.
func ValidLabel(label string, privileged bool) bool {
	if label == "" || len(label) > maxLabelLen {
		return false
	}
	if privileged {
		return relaxedLabelPattern.MatchString(label)
	}

	label = strings.ToLower(label)
	if len(label) < minLabelLen {
		return false
	}
	if _, blocked := exactBlockWords[label]; blocked {
		return false
	}
	for _, word := range containsBlockWords {
		if strings.Contains(label, word) {
			return false
		}
	}
	if strings.Contains(label, "--") {
		return false
	}
	return labelPattern.MatchString(label)
}

// ValidContent reports whether content is well-formed for the record type.
// Canonicalization for the wire (quoting TXT, fully-qualifying CNAME targets)
// is the synchronizer's job, not a validity concern.
func ValidContent(t, content string) bool {
	if content == "" {
		return false
	}
	switch strings.ToUpper(t) {
	case "A":
		return validIPv4(content)
	case "AAAA":
		return validIPv6(content)
	case "CNAME":
		return ValidDomainName(content)
	case "TXT":
		return len(content) <= maxTxtContent
	}
	return false
}

// validIPv4 accepts dotted-quad syntax only. net.ParseIP would also take the
// IPv6-mapped form ("::ffff:1.2.3.4"), which is not an A record content.
func validIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

func validIPv6(s string) bool {
	if !strings.Contains(s, ":") {
		return false
	}
	return net.ParseIP(s) != nil
}

// ValidDomainName reports whether name is a syntactically valid DNS name:
// at most 253 characters, every label matching the hostname grammar, with an
// optional trailing dot.
func ValidDomainName(name string) bool {
	if name == "" || len(name) > maxDomainLen {
		return false
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return false
	}
	if strings.Contains(name, "--") {
		return false
	}
	name = strings.TrimSuffix(name, ".")
	for _, label := range strings.Split(name, ".") {
		if !validDomainLabel(label) {
			return false
		}
	}
	return true
}

func validDomainLabel(label string) bool {
	if label == "" || len(label) > maxLabelLen {
		return false
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
