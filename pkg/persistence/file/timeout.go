package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// TimeoutRepository stores one file per pending step deadline under timeouts/.
type TimeoutRepository struct {
	store *store
}

func (r *TimeoutRepository) ScheduleTimeout(_ context.Context, timeout *models.StepTimeout) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.store.path("timeouts", timeout.Key()), timeout)
}

func (r *TimeoutRepository) CancelTimeout(_ context.Context, tenantID, instanceID, stepID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.remove(r.store.path("timeouts", models.TimeoutKey(tenantID, instanceID, stepID)))
}

func (r *TimeoutRepository) DueTimeouts(_ context.Context, now time.Time, limit int) ([]*models.StepTimeout, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	files, err := r.store.files(r.store.dir("timeouts"))
	if err != nil {
		return nil, err
	}

	due := make([]*models.StepTimeout, 0)

	for _, f := range files {
		var timeout models.StepTimeout
		if _, err := r.store.read(f, &timeout); err != nil {
			return nil, err
		}

		if timeout.IsDue(now) {
			due = append(due, &timeout)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].DueAt.Before(due[j].DueAt)
	})

	if limit <= 0 {
		limit = persistence.DefaultTimeoutBatch
	}

	if len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}
