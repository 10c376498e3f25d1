package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// InboxJanitor removes ledger rows past their expiry. Only terminal rows are
// eligible, so an in-flight command is never forgotten.
type InboxJanitor struct {
	inbox ports.CommandInbox
	log   zerolog.Logger
}

func NewInboxJanitor(inbox ports.CommandInbox, log zerolog.Logger) *InboxJanitor {
	return &InboxJanitor{inbox: inbox, log: log.With().Str("component", "inbox_janitor").Logger()}
}

func (j *InboxJanitor) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := j.inbox.PurgeExpired(ctx, now, []domain.CommandStatus{domain.CommandSucceeded, domain.CommandFailed})
	if err != nil {
		return 0, err
	}
	j.log.Info().Int64("deleted", n).Time("before", now).Msg("expired commands purged")
	return n, nil
}
