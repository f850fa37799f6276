package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedActors(t *testing.T, st Store) (admin, user *User, student *Student) {
	t.Helper()
	ctx := context.Background()
	admin = &User{ID: 1, Name: "Paddy MacGrath", Role: models.RoleAdmin}
	if err := st.UpsertUser(ctx, admin); err != nil {
		t.Fatalf("UpsertUser admin: %v", err)
	}
	user = &User{ID: 2, Name: "Ulf", Role: models.RoleUser}
	if err := st.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser user: %v", err)
	}
	student, err := st.CreateStudent(ctx, &Student{Name: "Oliver Smith"})
	if err != nil {
		t.Fatalf("CreateStudent: %v", err)
	}
	return admin, user, student
}

func TestMigrationsAndBasicCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, user, student := seedActors(t, st)

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID,
		Title:     "Home visit: Oliver Smith",
		Status:    models.StatusNew,
		CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, Metadata: map[string]any{"create": true}, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected non-zero task id")
	}

	got, err := st.GetTask(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil || got.Title != "Home visit: Oliver Smith" || got.Status != models.StatusNew {
		t.Fatalf("GetTask: got %+v", got)
	}
	if got.Checklist == nil {
		t.Fatal("checklist should decode to empty slice, not nil")
	}

	events, err := st.ListTaskEvents(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("ListTaskEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventEdit {
		t.Fatalf("expected one Edit event, got %+v", events)
	}
	if events[0].Metadata["create"] != true {
		t.Fatalf("metadata round-trip: %+v", events[0].Metadata)
	}

	_ = user
}

func TestMutateTaskCommitsTaskAndEventAtomically(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, user, student := seedActors(t, st)

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID, Title: "Call guardian", Status: models.StatusNew, CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	updated, err := st.MutateTask(ctx, created.ID, func(task *Task) (*TaskEvent, error) {
		task.AssigneeUserID = &user.ID
		task.Status = models.StatusAssigned
		task.UpdatedAt = time.Now().UTC()
		return &TaskEvent{Type: models.EventAssign, Metadata: map[string]any{"to": user.ID}, ActorUserID: admin.ID}, nil
	})
	if err != nil {
		t.Fatalf("MutateTask: %v", err)
	}
	if updated.Status != models.StatusAssigned || updated.AssigneeUserID == nil || *updated.AssigneeUserID != user.ID {
		t.Fatalf("mutation not applied: %+v", updated)
	}

	events, err := st.ListTaskEvents(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("ListTaskEvents: %v", err)
	}
	if len(events) != 2 || events[1].Type != models.EventAssign {
		t.Fatalf("expected Edit then Assign, got %+v", events)
	}
}

func TestMutateTaskRollsBackOnError(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, _, student := seedActors(t, st)

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID, Title: "Visit", Status: models.StatusNew, CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	boom := errors.New("boom")
	_, err = st.MutateTask(ctx, created.ID, func(task *Task) (*TaskEvent, error) {
		task.Title = "should not persist"
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	got, err := st.GetTask(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "Visit" {
		t.Fatalf("rollback failed, title = %q", got.Title)
	}
	events, _ := st.ListTaskEvents(ctx, created.ID, false)
	if len(events) != 1 {
		t.Fatalf("no event should be appended on rollback, got %d", len(events))
	}
}

func TestMutateTaskNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	_, err := st.MutateTask(context.Background(), 9999, func(task *Task) (*TaskEvent, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTaskExcludesSoftDeleted(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, _, student := seedActors(t, st)

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID, Title: "Visit", Status: models.StatusNew, CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = st.MutateTask(ctx, created.ID, func(task *Task) (*TaskEvent, error) {
		now := time.Now().UTC()
		task.DeletedAt = &now
		task.UpdatedAt = now
		return &TaskEvent{Type: models.EventDelete, ActorUserID: admin.ID}, nil
	})
	if err != nil {
		t.Fatalf("MutateTask: %v", err)
	}

	got, err := st.GetTask(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Fatalf("soft-deleted task should be hidden, got %+v", got)
	}
	got, err = st.GetTask(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("GetTask includeDeleted: %v", err)
	}
	if got == nil || got.DeletedAt == nil {
		t.Fatalf("includeDeleted should return the row, got %+v", got)
	}

	tasks, err := st.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("soft-deleted task leaked into list: %+v", tasks)
	}
}

func TestListTasksFilterAndSort(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, user, student := seedActors(t, st)

	mk := func(title string, due *time.Time, assignee *int64, status models.Status) Task {
		created, err := st.CreateTask(ctx, &Task{
			StudentID: student.ID, Title: title, DueAt: due, AssigneeUserID: assignee,
			Status: status, CreatedBy: &admin.ID,
		}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
		if err != nil {
			t.Fatalf("CreateTask %s: %v", title, err)
		}
		return *created
	}
	early := time.Now().UTC().Add(1 * time.Hour).Truncate(time.Second)
	late := early.Add(4 * time.Hour)
	mk("b-late", &late, &user.ID, models.StatusAssigned)
	mk("a-early", &early, nil, models.StatusNew)
	mk("c-nodue", nil, nil, models.StatusNew)

	tasks, err := st.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	// Default sort: due_at asc, null due dates last.
	if tasks[0].Title != "a-early" || tasks[1].Title != "b-late" || tasks[2].Title != "c-nodue" {
		t.Fatalf("sort order wrong: %s, %s, %s", tasks[0].Title, tasks[1].Title, tasks[2].Title)
	}

	desc, err := st.ListTasks(ctx, TaskFilter{Sort: SortDueAt, Descending: true})
	if err != nil {
		t.Fatalf("ListTasks desc: %v", err)
	}
	if desc[0].Title != "b-late" || desc[2].Title != "c-nodue" {
		t.Fatalf("desc sort should keep nulls last: %s ... %s", desc[0].Title, desc[2].Title)
	}

	status := string(models.StatusAssigned)
	filtered, err := st.ListTasks(ctx, TaskFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListTasks status: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Title != "b-late" {
		t.Fatalf("status filter wrong: %+v", filtered)
	}

	mine, err := st.ListTasks(ctx, TaskFilter{UserID: &user.ID})
	if err != nil {
		t.Fatalf("ListTasks mine: %v", err)
	}
	if len(mine) != 1 || mine[0].Title != "b-late" {
		t.Fatalf("user scope wrong: %+v", mine)
	}

	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("CountTasksByStatus: %v", err)
	}
	if counts["New"] != 2 || counts["Assigned"] != 1 {
		t.Fatalf("counts wrong: %+v", counts)
	}
}

func TestEventOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, _, student := seedActors(t, st)

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID, Title: "Visit", Status: models.StatusNew, CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, typ := range []models.EventType{models.EventAssign, models.EventAccept, models.EventComplete} {
		_, err := st.MutateTask(ctx, created.ID, func(task *Task) (*TaskEvent, error) {
			task.UpdatedAt = time.Now().UTC()
			return &TaskEvent{Type: typ, ActorUserID: admin.ID}, nil
		})
		if err != nil {
			t.Fatalf("MutateTask %s: %v", typ, err)
		}
	}

	asc, err := st.ListTaskEvents(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("ListTaskEvents: %v", err)
	}
	want := []models.EventType{models.EventEdit, models.EventAssign, models.EventAccept, models.EventComplete}
	if len(asc) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(asc))
	}
	for i := range want {
		if asc[i].Type != want[i] {
			t.Fatalf("event %d: got %s want %s", i, asc[i].Type, want[i])
		}
	}
	desc, _ := st.ListTaskEvents(ctx, created.ID, true)
	if desc[0].Type != models.EventComplete {
		t.Fatalf("newest-first should start with Complete, got %s", desc[0].Type)
	}
}

func TestUsersStudentsAbsencesComments(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, user, student := seedActors(t, st)

	// Upsert is idempotent and updates role/name in place.
	if err := st.UpsertUser(ctx, &User{ID: 2, Name: "Ulf Larsen", Role: models.RoleUser}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	u, err := st.GetUser(ctx, 2)
	if err != nil || u == nil {
		t.Fatalf("GetUser: %v, %+v", err, u)
	}
	if u.Name != "Ulf Larsen" {
		t.Fatalf("upsert did not update name: %q", u.Name)
	}

	email := "una@example.com"
	extra, err := st.CreateUser(ctx, &User{Email: &email, Name: "Una"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if extra.Role != models.RoleUser {
		t.Fatalf("default role should be User, got %s", extra.Role)
	}
	if err := st.DeleteUser(ctx, extra.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := st.DeleteUser(ctx, extra.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	found, err := st.GetStudentByName(ctx, "Oliver Smith")
	if err != nil || found == nil || found.ID != student.ID {
		t.Fatalf("GetStudentByName: %v, %+v", err, found)
	}

	date := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	if _, err := st.CreateAbsence(ctx, &Absence{StudentID: student.ID, Date: date}); err != nil {
		t.Fatalf("CreateAbsence: %v", err)
	}
	absences, err := st.ListAbsencesSince(ctx, student.ID, date.Add(-time.Hour))
	if err != nil || len(absences) != 1 {
		t.Fatalf("ListAbsencesSince: %v, %d", err, len(absences))
	}
	none, _ := st.ListAbsencesSince(ctx, student.ID, date.Add(time.Hour))
	if len(none) != 0 {
		t.Fatalf("since filter failed: %+v", none)
	}

	created, err := st.CreateTask(ctx, &Task{
		StudentID: student.ID, Title: "Visit", Status: models.StatusNew, CreatedBy: &admin.ID,
	}, &TaskEvent{Type: models.EventEdit, ActorUserID: admin.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := st.CreateComment(ctx, &Comment{TaskID: created.ID, Author: user.Name, Text: "rang twice"}); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	comments, err := st.ListComments(ctx, created.ID)
	if err != nil || len(comments) != 1 || comments[0].Text != "rang twice" {
		t.Fatalf("ListComments: %v, %+v", err, comments)
	}
}

func TestListCompletedVisits(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	admin, _, student := seedActors(t, st)

	now := time.Now().UTC().Truncate(time.Second)
	if _, err := st.InsertTask(ctx, &Task{
		StudentID: student.ID, Title: "Done visit", Status: models.StatusDone,
		CompletedAt: &now, CreatedBy: &admin.ID,
	}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := st.InsertTask(ctx, &Task{
		StudentID: student.ID, Title: "Open visit", Status: models.StatusNew, CreatedBy: &admin.ID,
	}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	visits, err := st.ListCompletedVisits(ctx, student.ID)
	if err != nil {
		t.Fatalf("ListCompletedVisits: %v", err)
	}
	if len(visits) != 1 || visits[0].Title != "Done visit" {
		t.Fatalf("ListCompletedVisits: %+v", visits)
	}
}
