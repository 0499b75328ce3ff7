package analytics

// PercentageChanges compares today's values with yesterday's snapshot.
// A nil field means there is no baseline, which is distinct from 0 (no change).
type PercentageChanges struct {
	PageViews          *int `json:"pageViews"`
	UniqueVisitors     *int `json:"uniqueVisitors"`
	Sessions           *int `json:"sessions"`
	AvgSessionDuration *int `json:"avgSessionDuration"`
	BounceRate         *int `json:"bounceRate"`
}

// PercentageChange returns round((current-previous)/previous*100). A zero
// baseline yields 100 when current is positive and 0 otherwise.
func PercentageChange(current, previous int) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round(float64(current-previous) / float64(previous) * 100)
}

// ComparePercentageChanges computes every change against previous. With no
// previous snapshot all fields are nil.
func ComparePercentageChanges(current DailySnapshot, previous *DailySnapshot) PercentageChanges {
	if previous == nil {
		return PercentageChanges{}
	}
	change := func(cur, prev int) *int {
		v := PercentageChange(cur, prev)
		return &v
	}
	return PercentageChanges{
		PageViews:          change(current.PageViews, previous.PageViews),
		UniqueVisitors:     change(current.UniqueVisitors, previous.UniqueVisitors),
		Sessions:           change(current.Sessions, previous.Sessions),
		AvgSessionDuration: change(current.AvgSessionDuration, previous.AvgSessionDuration),
		BounceRate:         change(current.BounceRate, previous.BounceRate),
	}
}
