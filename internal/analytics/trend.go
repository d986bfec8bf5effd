package analytics

// Trend describes how an own-domain position moved between two scrapes
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
	TrendNew    Trend = "new"
	TrendLost   Trend = "lost"
)

// ClassifyTrend compares the current position with the previous one. A smaller
// position is better. With neither position the keyword is stable.
func ClassifyTrend(current, previous *int) Trend {
	switch {
	case current != nil && previous != nil:
		switch {
		case *current < *previous:
			return TrendUp
		case *current > *previous:
			return TrendDown
		}
		return TrendStable
	case current != nil:
		return TrendNew
	case previous != nil:
		return TrendLost
	}
	return TrendStable
}
