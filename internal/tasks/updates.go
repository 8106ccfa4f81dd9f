package tasks

import (
	"fmt"

	"github.com/desertthunder/replay/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ListUsers Phase = iota
	ProcessUsers
	FlushWrites
	Finished
)

func (p Phase) String() string {
	switch p {
	case ListUsers:
		return "list_users"
	case ProcessUsers:
		return "process_users"
	case FlushWrites:
		return "flush_writes"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

func listUsersUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListUsers,
		Step:    1,
		Total:   1,
		Message: "Listing users...",
	}
}

func userCompletedUpdate(step, total int, res *models.UserResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d listens)", step, total, res.UserID, res.Processed),
		Data:    res,
	}
}

func userSkippedUpdate(step, total int, uid string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] - %s (not linked)", step, total, uid),
	}
}

func userFailedUpdate(step, total int, uid string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, uid, err),
	}
}

func flushUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FlushWrites,
		Step:    1,
		Total:   1,
		Message: "Flushing buffered writes...",
	}
}

func finishedUpdate(stats *models.IngestStats) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Processed %d users, %d listens, %d errors", stats.ProcessedUsers, stats.ProcessedListens, stats.Errors),
		Data:    stats,
	}
}
