package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

type JobQueue interface {
	Enqueue(ctx context.Context, cmd domain.InboundCommand) (domain.CommandJob, error)
	FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.CommandJob, error)
	MarkDone(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
