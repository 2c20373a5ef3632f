package verify

import (
	"fmt"
	"strings"
)

// buildRationale assembles the fixed-format rationale markdown: a header with the code and an emoji, then a bullet per
// non-PASS check; on a full pass, a single success line.
func buildRationale(code string, checks []checkResult) string {
	var fails, softs []checkResult
	for _, c := range checks {
		switch c.Verdict {
		case Fail:
			fails = append(fails, c)
		case Soft:
			softs = append(softs, c)
		}
	}

	var sb strings.Builder
	emoji := "✅"
	if len(fails) > 0 {
		emoji = "❌"
	} else if len(softs) > 0 {
		emoji = "⚠️"
	}
	fmt.Fprintf(&sb, "### %s Item %s\n", emoji, code)

	if len(fails) == 0 && len(softs) == 0 {
		sb.WriteString("All checks passed.\n")
		return sb.String()
	}
	for _, c := range fails {
		fmt.Fprintf(&sb, "- ❌ %s: %s\n", c.Name, c.Detail)
	}
	for _, c := range softs {
		fmt.Fprintf(&sb, "- ⚠️ %s: %s\n", c.Name, c.Detail)
	}
	return sb.String()
}
