package loom

import (
	"bytes"
	"net"
	"regexp"
	"strconv"
)

// MatcherKind names one of the pattern-matching kinds a Matcher can
// compile: string/prefix/suffix/substring, path-segment and domain-label
// matching, regexp, length and integer ranges, and CIDR membership.
type MatcherKind string

const (
	MatchStr MatcherKind = "str"
	MatchBeg MatcherKind = "beg"
	MatchEnd MatcherKind = "end"
	MatchSub MatcherKind = "sub"
	MatchDir MatcherKind = "dir"
	MatchDom MatcherKind = "dom"
	MatchReg MatcherKind = "reg"
	MatchLen MatcherKind = "len"
	MatchIP  MatcherKind = "ip"
	MatchInt MatcherKind = "int"
)

// Matcher is one compiled pattern test: a kind plus whichever of patterns,
// nets, or regexps that kind needs, and a case-insensitivity flag that
// applies to the string-shaped kinds.
type Matcher struct {
	Kind     MatcherKind
	Patterns [][]byte
	Nets     []*net.IPNet
	Regexps  []*regexp.Regexp
	IntLo    int64
	IntHi    int64
	NoCase   bool
}

// NewMatcher compiles raw pattern strings for kind; for MatchReg each raw
// string is a regexp source, for MatchIP each is a CIDR or bare IP, for
// MatchLen/MatchInt the first raw string is either "N" (exact) or "N:M"
// (inclusive range).
func NewMatcher(kind MatcherKind, raw []string, noCase bool) (*Matcher, error) {
	m := &Matcher{Kind: kind, NoCase: noCase}
	switch kind {
	case MatchReg:
		for _, r := range raw {
			exp, err := regexp.Compile(r)
			if err != nil {
				return nil, err
			}
			m.Regexps = append(m.Regexps, exp)
		}
	case MatchIP:
		for _, r := range raw {
			if !bytes.ContainsRune([]byte(r), '/') {
				if bytes.ContainsRune([]byte(r), ':') {
					r += "/128"
				} else {
					r += "/32"
				}
			}
			_, ipnet, err := net.ParseCIDR(r)
			if err != nil {
				return nil, err
			}
			m.Nets = append(m.Nets, ipnet)
		}
	case MatchLen, MatchInt:
		lo, hi, err := parseIntRange(raw[0])
		if err != nil {
			return nil, err
		}
		m.IntLo, m.IntHi = lo, hi
	default:
		for _, r := range raw {
			p := []byte(r)
			if noCase {
				p = bytes.ToLower(p)
			}
			m.Patterns = append(m.Patterns, p)
		}
	}
	return m, nil
}

func parseIntRange(s string) (lo, hi int64, err error) {
	if colon := indexByteSlice([]byte(s), ':'); colon >= 0 {
		lo, err = strconv.ParseInt(s[:colon], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.ParseInt(s[colon+1:], 10, 64)
		return lo, hi, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, v, err
}

// Match reports whether value satisfies m, matcher set.
func (m *Matcher) Match(value []byte) bool {
	switch m.Kind {
	case MatchStr:
		return equalMatch(m.normalize(value), m.Patterns)
	case MatchBeg:
		return prefixMatch(m.normalize(value), m.Patterns)
	case MatchEnd:
		return suffixMatch(m.normalize(value), m.Patterns)
	case MatchSub:
		return containMatch(m.normalize(value), m.Patterns)
	case MatchDir:
		return m.dirMatch(value)
	case MatchDom:
		return m.domMatch(value)
	case MatchReg:
		return regexpMatch(value, m.Regexps)
	case MatchLen:
		n := int64(len(value))
		return n >= m.IntLo && n <= m.IntHi
	case MatchIP:
		return m.ipMatch(value)
	case MatchInt:
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return false
		}
		return n >= m.IntLo && n <= m.IntHi
	default:
		return false
	}
}

func (m *Matcher) normalize(value []byte) []byte {
	if !m.NoCase {
		return value
	}
	return bytes.ToLower(value)
}

// dirMatch splits value on '/' and requires one whole segment to equal a
// pattern exactly, the way a directory-prefix matcher treats path components.
func (m *Matcher) dirMatch(value []byte) bool {
	for _, seg := range bytes.Split(m.normalize(value), []byte("/")) {
		if equalMatch(seg, m.Patterns) {
			return true
		}
	}
	return false
}

// domMatch splits value on '.' and requires a pattern to equal a suffix run
// of whole labels, right-aligned, the way a Host header's domain is tested.
func (m *Matcher) domMatch(value []byte) bool {
	labels := bytes.Split(m.normalize(value), []byte("."))
	for _, pattern := range m.Patterns {
		want := bytes.Split(pattern, []byte("."))
		if len(want) > len(labels) {
			continue
		}
		tail := labels[len(labels)-len(want):]
		match := true
		for i := range want {
			if !bytes.Equal(tail[i], want[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (m *Matcher) ipMatch(value []byte) bool {
	ip := net.ParseIP(string(value))
	if ip == nil {
		return false
	}
	for _, n := range m.Nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// The plain multi-pattern helpers below implement a value either
// equals/has-prefix/has-suffix/contains one of several patterns, or
// matches one of several pre-compiled regexps.
func equalMatch(value []byte, patterns [][]byte) bool {
	for _, pattern := range patterns {
		if bytes.Equal(value, pattern) {
			return true
		}
	}
	return false
}

func prefixMatch(value []byte, patterns [][]byte) bool {
	for _, pattern := range patterns {
		if bytes.HasPrefix(value, pattern) {
			return true
		}
	}
	return false
}

func suffixMatch(value []byte, patterns [][]byte) bool {
	for _, pattern := range patterns {
		if bytes.HasSuffix(value, pattern) {
			return true
		}
	}
	return false
}

func containMatch(value []byte, patterns [][]byte) bool {
	for _, pattern := range patterns {
		if bytes.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func regexpMatch(value []byte, regexps []*regexp.Regexp) bool {
	for _, exp := range regexps {
		if exp.Match(value) {
			return true
		}
	}
	return false
}
