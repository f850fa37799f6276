package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Integration test; runs only when TEST_DATABASE_URL points at a disposable
// PostgreSQL database.
func TestOpenAndBasicCRUD(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.UpsertUser(ctx, &store.User{ID: 1, Name: "Paddy MacGrath", Role: models.RoleAdmin}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	student, err := st.CreateStudent(ctx, &store.Student{Name: "Oliver Smith"})
	if err != nil {
		t.Fatalf("CreateStudent: %v", err)
	}
	adminID := int64(1)
	task, err := st.CreateTask(ctx, &store.Task{
		StudentID: student.ID,
		Title:     "Home visit: Oliver Smith",
		Status:    models.StatusNew,
		CreatedBy: &adminID,
	}, &store.TaskEvent{Type: models.EventEdit, ActorUserID: 1, Metadata: map[string]any{"create": true}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := st.GetTask(ctx, task.ID, false)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v %v", got, err)
	}
	events, err := st.ListTaskEvents(ctx, task.ID, false)
	if err != nil || len(events) != 1 {
		t.Fatalf("ListTaskEvents: %v %v", events, err)
	}
}
