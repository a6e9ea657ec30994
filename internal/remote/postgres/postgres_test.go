package postgres

import (
	"errors"
	"testing"

	"github.com/dvloznov/pocketpilot/internal/remote"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    remote.ChangeEvent
		wantErr bool
	}{
		{
			name:    "insert",
			payload: `{"table":"transactions","type":"insert","user_id":"u1"}`,
			want:    remote.ChangeEvent{Table: remote.TableTransactions, Type: remote.ChangeInsert, UserID: "u1"},
		},
		{
			name:    "upper case op",
			payload: `{"table":"accounts","type":"DELETE","user_id":"u2"}`,
			want:    remote.ChangeEvent{Table: remote.TableAccounts, Type: remote.ChangeDelete, UserID: "u2"},
		},
		{name: "unknown table", payload: `{"table":"users","type":"insert","user_id":"u1"}`, wantErr: true},
		{name: "truncate", payload: `{"table":"budgets","type":"truncate","user_id":"u1"}`, wantErr: true},
		{name: "not json", payload: `budgets`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotification(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNotification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseNotification() = %+v, want %+v", got, tt.want)
			}
		})
	}

	_, err := ParseNotification(`{"table":"users","type":"insert"}`)
	if !errors.Is(err, remote.ErrUnknownTable) {
		t.Errorf("error = %v, want ErrUnknownTable", err)
	}
}
