package msglog

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends to the message log, the audit trail of every exchange this
// node has with the auth server, the DSS and peer USSs. Entries are recorded
// for failed exchanges too; a failure to log never fails the exchange itself.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Entry struct {
	ID        int64  `json:"id,omitempty"`
	TS        string `json:"ts"`
	Direction string `json:"direction"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Audience  string `json:"audience,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Status    int    `json:"status,omitempty"`
	Body      string `json:"body,omitempty"`
	Note      string `json:"note,omitempty"`
}

const (
	DirOutgoingRequest  = "outgoing_request"
	DirIncomingResponse = "incoming_response"
	DirIncomingRequest  = "incoming_request"
)

func (w Writer) Append(ctx context.Context, e Entry) error {
	if e.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		e.TS = now().UTC().Format(time.RFC3339)
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO message_log(ts,direction,method,url,audience,scope,status,body,note) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.TS, e.Direction, e.Method, e.URL, e.Audience, e.Scope, e.Status, e.Body, e.Note)
	return err
}

// Latest returns the most recent entries, newest first.
func (w Writer) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,direction,method,url,audience,scope,status,body,note FROM message_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.Direction, &e.Method, &e.URL, &e.Audience, &e.Scope, &e.Status, &e.Body, &e.Note); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
