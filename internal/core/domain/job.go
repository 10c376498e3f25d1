package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// CommandJob is one queued delivery of an inbound command.
type CommandJob struct {
	ID            int64
	CommandID     string
	PayloadJSON   json.RawMessage
	Status        JobStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// Command decodes the queued envelope. Numbers stay json.Number so the
// payload re-hashes to the value it was registered with.
func (j CommandJob) Command() (InboundCommand, error) {
	var cmd InboundCommand
	dec := json.NewDecoder(bytes.NewReader(j.PayloadJSON))
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		return InboundCommand{}, err
	}
	if cmd.CommandID == "" {
		cmd.CommandID = j.CommandID
	}
	return cmd, nil
}
