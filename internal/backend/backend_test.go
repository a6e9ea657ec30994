package backend

import (
	"context"
	"io"
	"testing"

	"github.com/dvloznov/pocketpilot/internal/config"
	"github.com/dvloznov/pocketpilot/internal/logger"
)

func TestOpen(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)

	b, err := Open(context.Background(), config.Config{Backend: config.BackendMemory}, log)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	defer b.Close()

	id, err := b.CreateUser(context.Background(), "ana@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	u, err := b.FindUserByEmail(context.Background(), "ANA@example.com")
	if err != nil || u.ID != id {
		t.Errorf("FindUserByEmail() = %+v, %v, want id %s", u, err, id)
	}

	if _, err := Open(context.Background(), config.Config{Backend: "sqlite"}, log); err == nil {
		t.Error("Open(sqlite) error = nil, want error")
	}
}
