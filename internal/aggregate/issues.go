package aggregate

import "fmt"

// TopIssueLimit caps the number of issue strings on a summary.
const TopIssueLimit = 3

// TopIssues returns at most TopIssueLimit human-readable issues. Decision
// reasons come first, in the order given, followed by the dominant entry of
// the error-code, rule-failure and judge-label distributions.
func TopIssues(reasons []string, r Result) []string {
	out := make([]string, 0, TopIssueLimit)
	seen := map[string]struct{}{}
	add := func(s string) {
		if s == "" || len(out) >= TopIssueLimit {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, reason := range reasons {
		add(reason)
	}
	if len(r.ErrorCodeCounts) > 0 {
		e := r.ErrorCodeCounts[0]
		add(fmt.Sprintf("Error %s in %d case(s) (%.1f%% of errors)", e.Key, e.Count, e.Percent))
	}
	if len(r.RuleFailCounts) > 0 {
		e := r.RuleFailCounts[0]
		add(fmt.Sprintf("Rule %q failed in %d case(s) (%.1f%% of rule failures)", e.Key, e.Count, e.Percent))
	}
	if len(r.LabelCounts) > 0 {
		e := r.LabelCounts[0]
		add(fmt.Sprintf("Judge label %q on %d case(s) (%.1f%% of labels)", e.Key, e.Count, e.Percent))
	}
	return out
}
