package loom

import "testing"

func TestMatcherStrCaseInsensitive(t *testing.T) {
	m, err := NewMatcher(MatchStr, []string{"admin"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match([]byte("Admin")) {
		t.Fatal("expected case-insensitive match")
	}
	if m.Match([]byte("other")) {
		t.Fatal("unexpected match")
	}
}

func TestMatcherBegEndSub(t *testing.T) {
	beg, _ := NewMatcher(MatchBeg, []string{"/api/"}, false)
	if !beg.Match([]byte("/api/users")) {
		t.Fatal("beg should match")
	}
	end, _ := NewMatcher(MatchEnd, []string{".json"}, false)
	if !end.Match([]byte("report.json")) {
		t.Fatal("end should match")
	}
	sub, _ := NewMatcher(MatchSub, []string{"admin"}, false)
	if !sub.Match([]byte("/internal/admin/panel")) {
		t.Fatal("sub should match")
	}
}

func TestMatcherDirRequiresWholeSegment(t *testing.T) {
	m, _ := NewMatcher(MatchDir, []string{"admin"}, false)
	if !m.Match([]byte("/x/admin/y")) {
		t.Fatal("expected dir match on whole segment")
	}
	if m.Match([]byte("/x/administrator/y")) {
		t.Fatal("dir must not match a partial segment")
	}
}

func TestMatcherDomMatchesRightAlignedLabels(t *testing.T) {
	m, _ := NewMatcher(MatchDom, []string{"example.com"}, false)
	if !m.Match([]byte("www.example.com")) {
		t.Fatal("expected dom match")
	}
	if m.Match([]byte("example.com.evil.net")) {
		t.Fatal("dom must be right-aligned")
	}
}

func TestMatcherRegexp(t *testing.T) {
	m, err := NewMatcher(MatchReg, []string{`^/api/v[0-9]+/`}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match([]byte("/api/v2/users")) {
		t.Fatal("expected regexp match")
	}
}

func TestMatcherLenRange(t *testing.T) {
	m, err := NewMatcher(MatchLen, []string{"3:5"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match([]byte("abcd")) {
		t.Fatal("expected length in range to match")
	}
	if m.Match([]byte("ab")) {
		t.Fatal("length below range must not match")
	}
}

func TestMatcherIntExactAndRange(t *testing.T) {
	exact, _ := NewMatcher(MatchInt, []string{"403"}, false)
	if !exact.Match([]byte("403")) {
		t.Fatal("expected exact int match")
	}
	rng, _ := NewMatcher(MatchInt, []string{"400:499"}, false)
	if !rng.Match([]byte("404")) {
		t.Fatal("expected int in range to match")
	}
	if rng.Match([]byte("500")) {
		t.Fatal("int outside range must not match")
	}
}

func TestMatcherIPCIDR(t *testing.T) {
	m, err := NewMatcher(MatchIP, []string{"10.0.0.0/8"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match([]byte("10.1.2.3")) {
		t.Fatal("expected IP in CIDR to match")
	}
	if m.Match([]byte("192.168.1.1")) {
		t.Fatal("IP outside CIDR must not match")
	}
}

func TestMatcherIPBareAddress(t *testing.T) {
	m, err := NewMatcher(MatchIP, []string{"1.2.3.4"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match([]byte("1.2.3.4")) {
		t.Fatal("expected exact IP match")
	}
	if m.Match([]byte("1.2.3.5")) {
		t.Fatal("different IP must not match")
	}
}
