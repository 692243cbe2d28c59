package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Models frequently print payment terms outside the JSON envelope, usually
// in the handwritten "TERMS/AGENT: 30 DAYS (DELA CRUZ)" corner of Philippine
// sales invoices. These patterns recover that data from the raw text.
var (
	reTermsAgentParen = regexp.MustCompile(`(?i)TERMS\s*/\s*AGENT\s*:?\s*(\d+)\s*DAYS?\s*\(([^)]+)\)`)
	reTermsAgentLoose = regexp.MustCompile(`(?i)TERMS\s*/\s*AGENT\s*:?\s*(\d+)\s*DAYS?\s+([A-Za-z][A-Za-z .'\-]{1,60})`)
	reBareDays        = regexp.MustCompile(`(?i)\b(\d+)\s*DAYS?\b`)
)

// recoverTermsAgent re-scans the original raw text for terms and agent data
// the model left outside the JSON. Fills only fields still missing on c.
func recoverTermsAgent(c *CandidateInvoice, rawText string) {
	needTerms := c.TermsDays == nil || c.Terms == ""
	needAgent := c.AgentName == ""
	if !needTerms && !needAgent {
		return
	}

	if m := reTermsAgentParen.FindStringSubmatch(rawText); m != nil {
		applyTerms(c, m[1])
		if needAgent {
			c.AgentName = strings.TrimSpace(m[2])
		}
		return
	}
	if m := reTermsAgentLoose.FindStringSubmatch(rawText); m != nil {
		applyTerms(c, m[1])
		if needAgent {
			c.AgentName = strings.TrimSpace(m[2])
		}
		return
	}
	if needTerms {
		if m := reBareDays.FindStringSubmatch(rawText); m != nil {
			applyTerms(c, m[1])
		}
	}
}

func applyTerms(c *CandidateInvoice, days string) {
	n, err := strconv.Atoi(days)
	if err != nil {
		return
	}
	if c.TermsDays == nil {
		c.TermsDays = &n
	}
	if c.Terms == "" {
		c.Terms = fmt.Sprintf("%d DAYS", n)
	}
}
