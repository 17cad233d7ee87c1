package loom

import "testing"

func mustTerm(t *testing.T, fetch, arg string, m *Matcher) *Term {
	t.Helper()
	term, err := NewTerm(fetch, arg, m)
	if err != nil {
		t.Fatalf("NewTerm(%s): %v", fetch, err)
	}
	return term
}

func TestRuleEvaluatePassWhenAllTermsMatch(t *testing.T) {
	ctx := buildFetchContext(t, "GET /admin/panel HTTP/1.1", []string{"Host: internal"})
	dirMatcher, _ := NewMatcher(MatchDir, []string{"admin"}, false)

	r := NewRule(ActionDeny, PolarityIf)
	r.AddTerm(mustTerm(t, "path", "", dirMatcher))

	if state := r.Evaluate(ctx); state != Pass {
		t.Fatalf("state = %v, want Pass", state)
	}
}

func TestRuleEvaluateFailWhenATermFails(t *testing.T) {
	ctx := buildFetchContext(t, "GET /public HTTP/1.1", nil)
	dirMatcher, _ := NewMatcher(MatchDir, []string{"admin"}, false)

	r := NewRule(ActionDeny, PolarityIf)
	r.AddTerm(mustTerm(t, "path", "", dirMatcher))

	if state := r.Evaluate(ctx); state != Fail {
		t.Fatalf("state = %v, want Fail", state)
	}
}

func TestRuleEvaluateUnlessInvertsPolarity(t *testing.T) {
	ctx := buildFetchContext(t, "GET /public HTTP/1.1", nil)
	dirMatcher, _ := NewMatcher(MatchDir, []string{"admin"}, false)

	r := NewRule(ActionAllow, PolarityUnless)
	r.AddTerm(mustTerm(t, "path", "", dirMatcher))

	if state := r.Evaluate(ctx); state != Pass {
		t.Fatalf("unless non-matching path should Pass, got %v", state)
	}
}

func TestRuleEvaluateMissWhenFetchUnavailable(t *testing.T) {
	ctx := buildFetchContext(t, "GET /x HTTP/1.1", nil)
	statusMatcher, _ := NewMatcher(MatchInt, []string{"200"}, false)

	r := NewRule(ActionAllow, PolarityIf)
	r.AddTerm(mustTerm(t, "status", "", statusMatcher))

	if state := r.Evaluate(ctx); state != Miss {
		t.Fatalf("state = %v, want Miss (response status not yet known)", state)
	}
}

func TestRuleSetDecideFirstMatchWins(t *testing.T) {
	ctx := buildFetchContext(t, "GET /admin HTTP/1.1", nil)
	adminMatcher, _ := NewMatcher(MatchDir, []string{"admin"}, false)
	allMatcher, _ := NewMatcher(MatchBeg, []string{"/"}, false)

	denyAdmin := NewRule(ActionDeny, PolarityIf)
	denyAdmin.AddTerm(mustTerm(t, "path", "", adminMatcher))

	allowAll := NewRule(ActionAllow, PolarityIf)
	allowAll.AddTerm(mustTerm(t, "path", "", allMatcher))

	rs := RuleSet{denyAdmin, allowAll}
	rule, state := rs.Decide(ctx, true)
	if state != Pass || rule.Action != ActionDeny {
		t.Fatalf("expected first rule (deny) to win, got action=%v state=%v", rule, state)
	}
}

func TestRuleSetDecideSuspendsOnMissWhenNotFinal(t *testing.T) {
	ctx := buildFetchContext(t, "GET /x HTTP/1.1", nil)
	statusMatcher, _ := NewMatcher(MatchInt, []string{"200"}, false)

	r := NewRule(ActionAllow, PolarityIf)
	r.AddTerm(mustTerm(t, "status", "", statusMatcher))

	rs := RuleSet{r}
	rule, state := rs.Decide(ctx, false)
	if state != Miss || rule != nil {
		t.Fatalf("expected suspended Miss, got rule=%v state=%v", rule, state)
	}
}

func TestNewTermRejectsUnknownFetch(t *testing.T) {
	m, _ := NewMatcher(MatchStr, []string{"x"}, false)
	if _, err := NewTerm("no_such_fetch", "", m); err != ErrUnknownFetch {
		t.Fatalf("err = %v, want ErrUnknownFetch", err)
	}
}
