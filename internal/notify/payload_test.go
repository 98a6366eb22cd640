package notify

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lalithlochan/taskbell/internal/db"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     db.NotificationType
		data    string
		wantErr string
	}{
		{
			name: "task modified overdue",
			typ:  db.TypeTaskModified,
			data: `{"task_id":"t1","task_title":"Ship","event":"overdue","status":"TODO","due_date":"2026-01-01T00:00:00Z","link":"/tasks/t1"}`,
		},
		{
			name:    "task modified unknown event",
			typ:     db.TypeTaskModified,
			data:    `{"task_id":"t1","task_title":"Ship","event":"deleted","link":"/tasks/t1"}`,
			wantErr: "event failed oneof",
		},
		{
			name:    "task modified relative link required",
			typ:     db.TypeTaskModified,
			data:    `{"task_id":"t1","task_title":"Ship","event":"updated","link":"https://evil"}`,
			wantErr: "link failed startswith",
		},
		{
			name: "comment mention",
			typ:  db.TypeCommentMention,
			data: `{"task_id":"t1","comment_id":"c1","preview":"hi","actor":{"id":"u1","name":"Ana"},"link":"/tasks/t1#comment-c1","push":{"title":"Ana mentioned you","body":"hi"}}`,
		},
		{
			name:    "comment mention missing actor name",
			typ:     db.TypeCommentMention,
			data:    `{"task_id":"t1","comment_id":"c1","preview":"hi","actor":{"id":"u1"},"link":"/tasks/t1","push":{"title":"t","body":"b"}}`,
			wantErr: "actor.name failed required",
		},
		{
			name:    "unknown field rejected",
			typ:     db.TypeSystemAlert,
			data:    `{"severity":"info","colour":"red"}`,
			wantErr: "unknown field",
		},
		{
			name: "system alert without data",
			typ:  db.TypeSystemAlert,
			data: ``,
		},
		{
			name:    "payment missing currency",
			typ:     db.TypePaymentReceived,
			data:    `{"payment_id":"p1","amount":12.5}`,
			wantErr: "currency failed required",
		},
		{
			name:    "payment negative amount",
			typ:     db.TypePaymentReceived,
			data:    `{"payment_id":"p1","amount":-1,"currency":"EUR"}`,
			wantErr: "amount failed gt",
		},
		{
			name:    "payment requires data",
			typ:     db.TypePaymentReceived,
			data:    `null`,
			wantErr: "data is required",
		},
		{
			name:    "not an object",
			typ:     db.TypeTaskModified,
			data:    `[1,2]`,
			wantErr: "cannot unmarshal",
		},
		{
			name:    "unknown type",
			typ:     "reminder",
			data:    `{}`,
			wantErr: "unknown notification type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ValidatePayload(tt.typ, json.RawMessage(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !json.Valid(out) {
					t.Fatalf("result is not JSON: %s", out)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload_KeepsInputBytes(t *testing.T) {
	in := json.RawMessage(`{"severity": "warning", "title": "Backup late"}`)
	out, err := ValidatePayload(db.TypeSystemAlert, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("payload rewritten: %s", out)
	}
}

func TestEncodePayload(t *testing.T) {
	raw, err := EncodePayload(db.TypePaymentReceived, PaymentReceivedData{PaymentID: "p1", Amount: 10, Currency: "USD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(raw), `"payment_id":"p1"`) {
		t.Errorf("raw = %s", raw)
	}

	if _, err := EncodePayload(db.TypePaymentReceived, PaymentReceivedData{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
