package service

import (
	"testing"

	"github.com/dayflow/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPlanningTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.PlanningSession{}, &db.PlanningMessage{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		db.DB.Exec("DELETE FROM planning_messages")
		db.DB.Exec("DELETE FROM planning_sessions")
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestPlanningSessionGetOrCreate(t *testing.T) {
	cleanup := setupPlanningTestDB(t)
	defer cleanup()

	svc := NewPlanningSessionService(db.DB)

	first, err := svc.GetOrCreate(1, "2024-06-02")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}

	second, err := svc.GetOrCreate(1, "2024-06-02")
	if err != nil {
		t.Fatalf("second GetOrCreate returned error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent get-or-create, got %d and %d", first.ID, second.ID)
	}

	other, err := svc.GetOrCreate(1, "2024-06-03")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("expected different session for different plan date")
	}

	if _, err := svc.GetOrCreate(1, "06/02/2024"); err == nil {
		t.Fatal("expected error for invalid plan date")
	}
}

func TestPlanningSessionAppendAndTranscript(t *testing.T) {
	cleanup := setupPlanningTestDB(t)
	defer cleanup()

	svc := NewPlanningSessionService(db.DB)

	session, err := svc.GetOrCreate(1, "2024-06-02")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}

	if _, err := svc.AppendMessage(1, session.ID, "user", "帮我规划明天", "client-1"); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	assistant, err := svc.AppendMessage(1, session.ID, "assistant", "好的，先说说你明天的安排？", "")
	if err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	if assistant.ClientID == "" {
		t.Fatal("expected server-generated client id")
	}

	// 非法角色
	if _, err := svc.AppendMessage(1, session.ID, "system", "x", ""); err != ErrInvalidMessageRole {
		t.Fatalf("expected ErrInvalidMessageRole, got %v", err)
	}

	// 会话必须存在
	if _, err := svc.AppendMessage(1, 9999, "user", "x", ""); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	messages, err := svc.Transcript(1, session.ID)
	if err != nil {
		t.Fatalf("Transcript returned error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Fatal("expected transcript in append order")
	}
}

func TestPlanningSessionDeleteCascades(t *testing.T) {
	cleanup := setupPlanningTestDB(t)
	defer cleanup()

	svc := NewPlanningSessionService(db.DB)

	session, err := svc.GetOrCreate(1, "2024-06-02")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if _, err := svc.AppendMessage(1, session.ID, "user", "你好", ""); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}

	if err := svc.Delete(1, session.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	var messageCount int64
	db.DB.Model(&db.PlanningMessage{}).Where("session_id = ?", session.ID).Count(&messageCount)
	if messageCount != 0 {
		t.Fatalf("expected 0 messages after cascade delete, got %d", messageCount)
	}

	if err := svc.MarkComplete(1, session.ID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestPlanningSessionListRecent(t *testing.T) {
	cleanup := setupPlanningTestDB(t)
	defer cleanup()

	svc := NewPlanningSessionService(db.DB)

	for _, date := range []string{"2024-06-01", "2024-06-02", "2024-06-03"} {
		if _, err := svc.GetOrCreate(1, date); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
	}

	sessions, err := svc.ListRecent(1, 2)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].PlanDate != "2024-06-03" {
		t.Fatalf("expected most recent plan date first, got %s", sessions[0].PlanDate)
	}
}
