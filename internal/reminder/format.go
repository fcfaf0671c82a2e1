package reminder

import (
	"fmt"
	"strings"
	"time"
)

const deadlineLayout = "02.01.2006, 15:04"

// FormatDeadline renders the one-shot reminder text.
func FormatDeadline(title, project string, deadline time.Time, loc *time.Location) string {
	return fmt.Sprintf("⏰ Deadline soon/reached: %s, project %s, time %s",
		title, project, deadline.In(loc).Format(deadlineLayout))
}

// FormatDigest renders the daily summary. The upcoming clause is omitted when
// nothing is due tomorrow.
func FormatDigest(d Digest) string {
	msg := fmt.Sprintf("🗓 Today: %d tasks, Overdue: %d", d.Today, d.Overdue)
	if len(d.Tomorrow) > 0 {
		titles := make([]string, 0, len(d.Tomorrow))
		for _, t := range d.Tomorrow {
			titles = append(titles, t.Title)
		}
		msg += ", Upcoming: " + strings.Join(titles, ", ")
	}
	return msg
}

// FormatScanNotice renders one scan hit in notify delivery mode.
func FormatScanNotice(t Task, hours, members int, loc *time.Location) string {
	return fmt.Sprintf("⏳ %s, project %s: %dh left (%s), %d members",
		t.Title, t.ProjectName, hours, t.Deadline.In(loc).Format(deadlineLayout), members)
}
