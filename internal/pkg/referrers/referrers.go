package referrers

import (
	"net/url"
	"strings"
)

// Mediums group referrers by the kind of site that sent the visit.
const (
	MediumSearch    = "search"
	MediumSocial    = "social"
	MediumCommunity = "community"
	MediumNews      = "news"
	MediumEmail     = "email"
	MediumShortener = "shortener"
	MediumOther     = "other"
)

type known struct {
	name   string
	medium string
}

var knownReferrers = map[string]known{
	"google.com":     {"Google", MediumSearch},
	"google.co.uk":   {"Google", MediumSearch},
	"google.de":      {"Google", MediumSearch},
	"google.fr":      {"Google", MediumSearch},
	"google.es":      {"Google", MediumSearch},
	"google.it":      {"Google", MediumSearch},
	"google.ca":      {"Google", MediumSearch},
	"google.com.au":  {"Google", MediumSearch},
	"google.co.jp":   {"Google", MediumSearch},
	"google.com.br":  {"Google", MediumSearch},
	"bing.com":       {"Bing", MediumSearch},
	"duckduckgo.com": {"DuckDuckGo", MediumSearch},
	"yahoo.com":      {"Yahoo", MediumSearch},
	"baidu.com":      {"Baidu", MediumSearch},
	"yandex.ru":      {"Yandex", MediumSearch},
	"ecosia.org":     {"Ecosia", MediumSearch},
	"kagi.com":       {"Kagi", MediumSearch},
	"perplexity.ai":  {"Perplexity", MediumSearch},
	"chatgpt.com":    {"ChatGPT", MediumSearch},

	"x.com":           {"X/Twitter", MediumSocial},
	"twitter.com":     {"X/Twitter", MediumSocial},
	"t.co":            {"X/Twitter", MediumSocial},
	"facebook.com":    {"Facebook", MediumSocial},
	"fb.com":          {"Facebook", MediumSocial},
	"instagram.com":   {"Instagram", MediumSocial},
	"linkedin.com":    {"LinkedIn", MediumSocial},
	"lnkd.in":         {"LinkedIn", MediumSocial},
	"tiktok.com":      {"TikTok", MediumSocial},
	"pinterest.com":   {"Pinterest", MediumSocial},
	"reddit.com":      {"Reddit", MediumSocial},
	"threads.net":     {"Threads", MediumSocial},
	"bsky.app":        {"Bluesky", MediumSocial},
	"mastodon.social": {"Mastodon", MediumSocial},
	"youtube.com":     {"YouTube", MediumSocial},
	"youtu.be":        {"YouTube", MediumSocial},
	"snapchat.com":    {"Snapchat", MediumSocial},
	"discord.com":     {"Discord", MediumSocial},
	"whatsapp.com":    {"WhatsApp", MediumSocial},
	"t.me":            {"Telegram", MediumSocial},
	"slack.com":       {"Slack", MediumSocial},

	"news.ycombinator.com": {"Hacker News", MediumCommunity},
	"lobste.rs":            {"Lobsters", MediumCommunity},
	"producthunt.com":      {"Product Hunt", MediumCommunity},
	"indiehackers.com":     {"Indie Hackers", MediumCommunity},
	"dev.to":               {"DEV Community", MediumCommunity},
	"medium.com":           {"Medium", MediumCommunity},
	"substack.com":         {"Substack", MediumCommunity},
	"github.com":           {"GitHub", MediumCommunity},
	"gitlab.com":           {"GitLab", MediumCommunity},
	"stackoverflow.com":    {"Stack Overflow", MediumCommunity},
	"quora.com":            {"Quora", MediumCommunity},

	"nytimes.com":        {"NY Times", MediumNews},
	"washingtonpost.com": {"Washington Post", MediumNews},
	"theguardian.com":    {"The Guardian", MediumNews},
	"bbc.com":            {"BBC", MediumNews},
	"bbc.co.uk":          {"BBC", MediumNews},
	"cnn.com":            {"CNN", MediumNews},
	"reuters.com":        {"Reuters", MediumNews},
	"techcrunch.com":     {"TechCrunch", MediumNews},
	"theverge.com":       {"The Verge", MediumNews},

	"mail.google.com":    {"Gmail", MediumEmail},
	"outlook.live.com":   {"Outlook", MediumEmail},
	"outlook.office.com": {"Outlook", MediumEmail},
	"mail.yahoo.com":     {"Yahoo Mail", MediumEmail},
	"mail.proton.me":     {"Proton Mail", MediumEmail},

	"bit.ly":      {"Bitly", MediumShortener},
	"tinyurl.com": {"TinyURL", MediumShortener},
	"ow.ly":       {"Hootsuite", MediumShortener},
}

// Referrer is a classified referring site.
type Referrer struct {
	Host   string
	Name   string
	Medium string
}

// Classify resolves a hostname to its friendly name and medium. The most
// specific known suffix wins, so mail.google.com is Gmail, not Google.
func Classify(hostname string) Referrer {
	host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hostname)), "www.")
	if host == "" {
		return Referrer{}
	}

	for candidate := host; candidate != ""; {
		if k, ok := knownReferrers[candidate]; ok {
			return Referrer{Host: host, Name: k.name, Medium: k.medium}
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}

	return Referrer{Host: host, Name: capitalizeFirst(host), Medium: MediumOther}
}

// Parse classifies a full referrer URL. ok is false when no host can be extracted.
func Parse(referrerURL string) (Referrer, bool) {
	referrerURL = strings.TrimSpace(referrerURL)
	if referrerURL == "" {
		return Referrer{}, false
	}
	if !strings.Contains(referrerURL, "://") {
		referrerURL = "https://" + referrerURL
	}
	parsed, err := url.Parse(referrerURL)
	if err != nil || parsed.Hostname() == "" {
		return Referrer{}, false
	}
	return Classify(parsed.Hostname()), true
}

// FriendlyName returns a human-friendly name for a referrer hostname.
func FriendlyName(hostname string) string {
	return Classify(hostname).Name
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
