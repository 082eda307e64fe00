package airforce

import "regexp"

// filterRules are applied in order. Banners go before the role-echo prefix
// because a banner can precede it.
var filterRules = []*regexp.Regexp{
	regexp.MustCompile(`One message exceeds the \d+chars per message limit\..+https://discord\.com/invite/\S+`),
	regexp.MustCompile(`Rate limit \(\d+/minute\) exceeded\. Join our discord for more: .+https://discord\.com/invite/\S+`),
	regexp.MustCompile(`\[ERROR\] '\w{8}-\w{4}-\w{4}-\w{4}-\w{12}'`),
	regexp.MustCompile(`<\|im_end\|>`),
	regexp.MustCompile(`</s>`),
	regexp.MustCompile(`^(?:Assistant: |AI: |ANSWER: |Output: )`),
}

// Filter strips provider banners, error codes, end-of-turn tokens and a
// leading role echo from text. The rules run until nothing changes, so
// Filter(Filter(s)) == Filter(s).
func Filter(text string) string {
	for {
		next := text
		for _, rule := range filterRules {
			next = rule.ReplaceAllString(next, "")
		}
		// every rule only matches non-empty text, so each pass shrinks next
		if next == text {
			return next
		}
		text = next
	}
}
