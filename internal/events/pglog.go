// README: Append-only domain event log in PostgreSQL.
package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLog writes pool events to pool_events and driver events to driver_events.
type PGLog struct {
	db *pgxpool.Pool
}

func NewPGLog(db *pgxpool.Pool) *PGLog {
	return &PGLog{db: db}
}

func (l *PGLog) Append(ctx context.Context, evts []Event) error {
	if len(evts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range evts {
		payload, err := json.Marshal(struct {
			Recipients []string          `json:"recipients,omitempty"`
			Data       map[string]string `json:"data,omitempty"`
		}{Recipients: idsToStrings(e), Data: e.Data})
		if err != nil {
			return err
		}
		table := "pool_events"
		if e.SubjectType == SubjectDriver {
			table = "driver_events"
		}
		batch.Queue(`INSERT INTO `+table+` (id, subject_id, kind, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
			e.ID, string(e.SubjectID), string(e.Kind), payload, e.OccurredAt)
	}
	return l.db.SendBatch(ctx, batch).Close()
}

func idsToStrings(e Event) []string {
	out := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		out[i] = string(r)
	}
	return out
}
