package crawler

import "strings"

// challengeMarkers are lowercase fragments specific to anti-bot
// interstitials. Generic phrases such as "just a moment" only count as the
// page title.
var challengeMarkers = []string{
	"verify you are human",
	"verifying you are human",
	"checking your browser before accessing",
	"checking if the site connection is secure",
	"enable javascript and cookies to continue",
	"<title>just a moment...</title>",
	"cf-challenge",
	"challenge-platform",
	"captcha-delivery",
}

// LooksLikeChallenge reports whether markup, or page text rendered with its
// title in <title> tags, carries an anti-bot interstitial marker.
func LooksLikeChallenge(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
