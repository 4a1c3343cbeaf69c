package remote

import (
	"github.com/tasksync-dev/tasksync/internal/task"
)

// View converts the issue into the tracker-neutral snapshot the conflict
// resolver and orchestrator compare against local tasks. An open issue
// never implies in_progress; it maps to pending.
func (i *Issue) View() task.RemoteView {
	return task.RemoteView{
		Number:     i.Number,
		InternalID: i.ID,
		Title:      i.Title,
		Body:       i.Body,
		State:      i.State,
		Status:     task.StatusForState(i.State),
		UpdatedAt:  i.UpdatedAt,
	}
}
