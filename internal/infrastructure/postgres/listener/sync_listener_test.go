package listener

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

type recordingTrigger struct {
	ids    []string
	accept bool
}

func (t *recordingTrigger) TriggerConnection(connectionID string) bool {
	t.ids = append(t.ids, connectionID)
	return t.accept
}

func TestParseSyncRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "valid", payload: `{"connection_id":"item-1"}`, want: "item-1"},
		{name: "missing id", payload: `{}`, wantErr: true},
		{name: "not json", payload: `item-1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseSyncRequest(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSyncRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if req.ConnectionID != tt.want {
				t.Errorf("ConnectionID = %q, want %q", req.ConnectionID, tt.want)
			}
		})
	}
}

func TestHandleNotification(t *testing.T) {
	trigger := &recordingTrigger{accept: true}
	l := NewSyncListener("", trigger)

	l.handleNotification(&pq.Notification{Channel: ChannelName, Extra: `{"connection_id":"item-1"}`})
	l.handleNotification(&pq.Notification{Channel: ChannelName, Extra: `garbage`})

	if len(trigger.ids) != 1 || trigger.ids[0] != "item-1" {
		t.Errorf("triggered = %v, want [item-1]", trigger.ids)
	}
}

func TestRequestSync(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`SELECT pg_notify\(\$1, \$2\)`).
		WithArgs(ChannelName, `{"connection_id":"item-1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := RequestSync(context.Background(), db, "item-1"); err != nil {
		t.Fatalf("RequestSync() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
