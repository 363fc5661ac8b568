package task

import (
	"math"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
)

// priorityBase maps priority tiers to their base score.
var priorityBase = map[types.TaskPriority]int{
	types.TaskPriorityLow:    25,
	types.TaskPriorityMedium: 50,
	types.TaskPriorityHigh:   75,
	types.TaskPriorityUrgent: 95,
}

// PriorityScore derives a deterministic 0-100 urgency score from the
// priority tier plus a due date proximity boost.
func PriorityScore(priority types.TaskPriority, dueDate *time.Time, now time.Time) int {
	score, ok := priorityBase[priority]
	if !ok {
		score = 50
	}

	if dueDate != nil {
		days := int(math.Floor(dueDate.Sub(now).Hours() / 24))
		switch {
		case days <= 1:
			score += 20
		case days <= 3:
			score += 10
		case days <= 7:
			score += 5
		}
	}

	return clampScore(score)
}

// ComplexityScore derives a deterministic 0-100 complexity score from
// the estimated duration and the amount of description text.
func ComplexityScore(estimatedDuration *int, description *string) int {
	score := 30

	if estimatedDuration != nil {
		switch {
		case *estimatedDuration > 240:
			score += 40
		case *estimatedDuration > 120:
			score += 25
		case *estimatedDuration > 60:
			score += 15
		}
	}

	if description != nil {
		switch n := len(*description); {
		case n > 500:
			score += 20
		case n > 200:
			score += 10
		}
	}

	return clampScore(score)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
