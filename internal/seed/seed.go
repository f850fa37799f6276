// Package seed loads demo fixtures. Users are upserted on every run so the
// demo identities stay stable; everything else is only written into an empty
// database.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

type fixtures struct {
	Users []struct {
		ID   int64       `yaml:"id"`
		Name string      `yaml:"name"`
		Role models.Role `yaml:"role"`
	} `yaml:"users"`
	Students []struct {
		Name    string `yaml:"name"`
		Class   string `yaml:"class"`
		Address string `yaml:"address"`
	} `yaml:"students"`
	Tasks []struct {
		Student        string `yaml:"student"`
		Title          string `yaml:"title"`
		Body           string `yaml:"body"`
		Checklist      []struct {
			Text string `yaml:"text"`
			Done bool   `yaml:"done"`
		} `yaml:"checklist"`
		DueInHours     int           `yaml:"due_in_hours"`
		AssigneeUserID *int64        `yaml:"assignee_user_id"`
		Status         models.Status `yaml:"status"`
	} `yaml:"tasks"`
	Absences []struct {
		Student    string `yaml:"student"`
		DaysAgo    int    `yaml:"days_ago"`
		ReasonCode string `yaml:"reason_code"`
		Note       string `yaml:"note"`
		ReportedBy string `yaml:"reported_by"`
	} `yaml:"absences"`
	Comments []struct {
		Task   string `yaml:"task"`
		Author string `yaml:"author"`
		Text   string `yaml:"text"`
	} `yaml:"comments"`
}

// Apply seeds st with the embedded fixtures. Users are always upserted.
// Demo students, tasks, absences, and comments are skipped when the database
// already holds students or tasks, so repeated runs never duplicate data.
func Apply(ctx context.Context, st store.Store, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var fx fixtures
	if err := yaml.Unmarshal(fixturesYAML, &fx); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}

	for _, u := range fx.Users {
		if err := st.UpsertUser(ctx, &store.User{ID: u.ID, Name: u.Name, Role: u.Role}); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
	}

	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		return err
	}
	var haveTasks int64
	for _, n := range counts {
		haveTasks += n
	}
	existing, err := st.ListStudents(ctx)
	if err != nil {
		return err
	}
	if haveTasks > 0 || len(existing) > 0 {
		log.Info("seed: keeping existing data", "students", len(existing), "tasks", haveTasks)
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)

	studentsByName := make(map[string]*store.Student, len(fx.Students))
	for _, s := range fx.Students {
		class, addr := s.Class, s.Address
		created, err := st.CreateStudent(ctx, &store.Student{
			Name:         s.Name,
			StudentClass: strPtr(class),
			Address:      strPtr(addr),
		})
		if err != nil {
			return fmt.Errorf("create student %q: %w", s.Name, err)
		}
		studentsByName[s.Name] = created
	}

	adminID := fx.Users[0].ID
	tasksByTitle := make(map[string]*store.Task, len(fx.Tasks))
	for _, tf := range fx.Tasks {
		student, ok := studentsByName[tf.Student]
		if !ok {
			return fmt.Errorf("task %q references unknown student %q", tf.Title, tf.Student)
		}
		checklist := make([]models.ChecklistItem, 0, len(tf.Checklist))
		for _, item := range tf.Checklist {
			checklist = append(checklist, models.ChecklistItem{Text: item.Text, Done: item.Done})
		}
		status := tf.Status
		if status == "" {
			status = models.StatusNew
		}
		due := now.Add(time.Duration(tf.DueInHours) * time.Hour)
		row := &store.Task{
			StudentID:      student.ID,
			Title:          tf.Title,
			Body:           strPtr(tf.Body),
			Address:        student.Address,
			Checklist:      checklist,
			DueAt:          &due,
			AssigneeUserID: tf.AssigneeUserID,
			Status:         status,
			CreatedBy:      &adminID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		var ev *store.TaskEvent
		if tf.AssigneeUserID != nil {
			ev = &store.TaskEvent{
				Type:        models.EventAssign,
				ActorUserID: adminID,
				Metadata:    map[string]any{"to": *tf.AssigneeUserID},
				CreatedAt:   now,
			}
		}
		created, err := st.CreateTask(ctx, row, ev)
		if err != nil {
			return fmt.Errorf("create task %q: %w", tf.Title, err)
		}
		tasksByTitle[tf.Title] = created
	}

	for _, af := range fx.Absences {
		student, ok := studentsByName[af.Student]
		if !ok {
			return fmt.Errorf("absence references unknown student %q", af.Student)
		}
		date := now.AddDate(0, 0, -af.DaysAgo)
		_, err := st.CreateAbsence(ctx, &store.Absence{
			StudentID:  student.ID,
			Date:       date,
			ReasonCode: strPtr(af.ReasonCode),
			Note:       strPtr(af.Note),
			ReportedBy: strPtr(af.ReportedBy),
		})
		if err != nil {
			return fmt.Errorf("create absence for %q: %w", af.Student, err)
		}
	}

	for _, cf := range fx.Comments {
		task, ok := tasksByTitle[cf.Task]
		if !ok {
			return fmt.Errorf("comment references unknown task %q", cf.Task)
		}
		if _, err := st.CreateComment(ctx, &store.Comment{
			TaskID: task.ID,
			Author: cf.Author,
			Text:   cf.Text,
		}); err != nil {
			return fmt.Errorf("create comment on %q: %w", cf.Task, err)
		}
	}

	log.Info("seed: loaded demo data", "students", len(fx.Students), "tasks", len(fx.Tasks))
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
