package analytics

import (
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pulseboard/internal/pkg/referrers"
	"pulseboard/internal/tracking"
)

// DefaultMaxSessionDuration is the cutoff above which a session duration is treated as corrupt.
const DefaultMaxSessionDuration = 8 * time.Hour

// Traffic source labels used when a page view carries no utm_source.
const (
	SourceReferrer = "referrer"
	SourceDirect   = "direct"
)

// Metrics are the summary numbers for one SessionSet.
type Metrics struct {
	PageViews          int
	UniqueVisitors     int
	Sessions           int
	AvgSessionDuration int
	BounceRate         int
	EventsCount        int
	EventOnlySessions  int
	WindowDays         int
}

// PageCount is one row of the top pages breakdown.
type PageCount struct {
	Page  string `json:"page"`
	Views int    `json:"views"`
}

// CountryCount is one row of the geography breakdown.
type CountryCount struct {
	Country     string `json:"country"`
	CountryName string `json:"countryName"`
	Visitors    int    `json:"visitors"`
}

// ReferrerCount is one row of the referrer breakdown.
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Host     string `json:"host"`
	Medium   string `json:"medium"`
	Views    int    `json:"views"`
}

// ComputeMetrics derives the summary numbers. maxDuration excludes longer sessions from the average.
func ComputeMetrics(set *SessionSet, maxDuration time.Duration) Metrics {
	bounceRate, eventOnly := BounceRate(set)
	return Metrics{
		PageViews:          len(set.PageViews),
		UniqueVisitors:     UniqueVisitors(set.Visitors),
		Sessions:           len(set.Visitors),
		AvgSessionDuration: round(AverageSessionDuration(set, maxDuration)),
		BounceRate:         bounceRate,
		EventsCount:        len(set.Events),
		EventOnlySessions:  eventOnly,
		WindowDays:         set.Days,
	}
}

// BounceRate is the share of sessions with at least one page view that had
// exactly one page view and no event, as a rounded percentage. Sessions with
// only events are left out of the ratio and counted in eventOnlySessions.
func BounceRate(set *SessionSet) (rate int, eventOnlySessions int) {
	pageViewsBySession := make(map[string]int)
	for _, pv := range set.PageViews {
		pageViewsBySession[pv.SessionID]++
	}
	eventsBySession := make(map[string]int)
	for _, ev := range set.Events {
		eventsBySession[ev.SessionID]++
	}

	var withPageViews, bounced int
	for _, id := range set.ActiveSessionIDs {
		views := pageViewsBySession[id]
		if views == 0 {
			eventOnlySessions++
			continue
		}
		withPageViews++
		if views == 1 && eventsBySession[id] == 0 {
			bounced++
		}
	}

	if withPageViews == 0 {
		return 0, eventOnlySessions
	}
	return round(float64(bounced) / float64(withPageViews) * 100), eventOnlySessions
}

// AverageSessionDuration is the mean in seconds of each active session's
// latest minus earliest hit. Durations that are NaN, negative or at least
// maxDuration are dropped from both sum and count.
func AverageSessionDuration(set *SessionSet, maxDuration time.Duration) float64 {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxSessionDuration
	}
	limit := maxDuration.Seconds()

	var total float64
	var valid int
	for _, id := range set.ActiveSessionIDs {
		seconds := set.Activity[id].Duration().Seconds()
		if math.IsNaN(seconds) || seconds < 0 || seconds >= limit {
			continue
		}
		total += seconds
		valid++
	}
	if valid == 0 {
		return 0
	}
	return total / float64(valid)
}

// UniqueVisitors counts distinct session ids.
func UniqueVisitors(visitors []tracking.Visitor) int {
	seen := make(map[string]struct{}, len(visitors))
	for _, v := range visitors {
		seen[v.SessionID] = struct{}{}
	}
	return len(seen)
}

// NormalizePageURL strips query and fragment, lowercases scheme and host, and
// drops a trailing slash from any path except the root.
func NormalizePageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}

	prefix := ""
	path := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
		prefix = strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
		path = parsed.Path
	}

	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return prefix + path
}

// TopPages counts page views per normalized URL, highest first with ties
// broken by page ascending, and keeps the first n.
func TopPages(pageViews []tracking.PageView, n int) []PageCount {
	counts := make(map[string]int)
	for _, pv := range pageViews {
		counts[NormalizePageURL(pv.PageURL)]++
	}

	pages := make([]PageCount, 0, len(counts))
	for page, views := range counts {
		pages = append(pages, PageCount{Page: page, Views: views})
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Views != pages[j].Views {
			return pages[i].Views > pages[j].Views
		}
		return pages[i].Page < pages[j].Page
	})
	return truncate(pages, n)
}

func sourceOf(utmSource, referrer string) string {
	if s := strings.TrimSpace(utmSource); s != "" {
		return s
	}
	if strings.TrimSpace(referrer) != "" {
		return SourceReferrer
	}
	return SourceDirect
}

// TrafficSources attributes each page view to utm_source, else "referrer",
// else "direct". When no page view carries a source signal, the visitor rows
// are attributed with the same rule instead, provided they carry one.
// Counts are therefore page views in the first case and sessions in the
// fallback. When neither carries a signal the result is {"direct": page views};
// with no page views at all it is the per-session map.
func TrafficSources(pageViews []tracking.PageView, visitors []tracking.Visitor) map[string]int {
	sources := make(map[string]int)
	signal := false
	for _, pv := range pageViews {
		source := sourceOf(pv.UTMSource, pv.Referrer)
		if source != SourceDirect {
			signal = true
		}
		sources[source]++
	}
	if signal {
		return sources
	}

	fallback := make(map[string]int)
	visitorSignal := false
	for _, v := range visitors {
		source := sourceOf(v.UTMSource, v.Referrer)
		if source != SourceDirect {
			visitorSignal = true
		}
		fallback[source]++
	}
	if visitorSignal || len(pageViews) == 0 {
		return fallback
	}
	return sources
}

var (
	countriesOnce sync.Once
	countries     *gountries.Query
)

func countryQuery() *gountries.Query {
	countriesOnce.Do(func() {
		countries = gountries.New()
	})
	return countries
}

// CountryName returns the common English name for an ISO alpha-2 code, or
// the upper-cased code when it is not recognised.
func CountryName(code string) string {
	upper := cases.Upper(language.AmericanEnglish).String(strings.TrimSpace(code))
	country, err := countryQuery().FindCountryByAlpha(upper)
	if err != nil {
		return upper
	}
	return country.Name.Common
}

// Geography counts visitors per country, skipping unknown countries, highest
// first with ties broken by code ascending, and keeps the first n.
func Geography(visitors []tracking.Visitor, n int) []CountryCount {
	caser := cases.Upper(language.AmericanEnglish)
	counts := make(map[string]int)
	for _, v := range visitors {
		if v.CountryCode == nil || strings.TrimSpace(*v.CountryCode) == "" {
			continue
		}
		counts[caser.String(strings.TrimSpace(*v.CountryCode))]++
	}

	rows := make([]CountryCount, 0, len(counts))
	for code, count := range counts {
		rows = append(rows, CountryCount{Country: code, Visitors: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Visitors != rows[j].Visitors {
			return rows[i].Visitors > rows[j].Visitors
		}
		return rows[i].Country < rows[j].Country
	})
	rows = truncate(rows, n)
	for i := range rows {
		rows[i].CountryName = CountryName(rows[i].Country)
	}
	return rows
}

// TopReferrers groups referred page views by referring site.
func TopReferrers(pageViews []tracking.PageView, n int) []ReferrerCount {
	type key struct{ name, host, medium string }
	counts := make(map[key]int)
	for _, pv := range pageViews {
		ref, ok := referrers.Parse(pv.Referrer)
		if !ok {
			continue
		}
		counts[key{ref.Name, ref.Host, ref.Medium}]++
	}

	byName := make(map[string]*ReferrerCount)
	for k, views := range counts {
		row, ok := byName[k.name]
		if !ok {
			row = &ReferrerCount{Referrer: k.name, Host: k.host, Medium: k.medium}
			byName[k.name] = row
		}
		if k.host < row.Host {
			row.Host = k.host
		}
		row.Views += views
	}

	rows := make([]ReferrerCount, 0, len(byName))
	for _, row := range byName {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Views != rows[j].Views {
			return rows[i].Views > rows[j].Views
		}
		return rows[i].Referrer < rows[j].Referrer
	})
	return truncate(rows, n)
}

func truncate[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

func round(x float64) int {
	return int(math.Round(x))
}
