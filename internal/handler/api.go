package handler

import (
	"sync"

	"github.com/dayflow/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	users     *service.UserService
	habits    *service.HabitService
	habitLogs *service.HabitLogService
	events    *service.EventService
	sessions  *service.PlanningSessionService
	system    *service.SystemSettingService
	planner   *service.AIPlanService

	// 每个会话同一时刻只允许一个模型调用在途
	streamMu sync.Mutex
	inFlight map[uint]bool
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB) *API {
	systemService := service.NewSystemSettingService(db)
	eventService := service.NewEventService(db)

	return &API{
		db:        db,
		users:     service.NewUserService(db),
		habits:    service.NewHabitService(db),
		habitLogs: service.NewHabitLogService(db),
		events:    eventService,
		sessions:  service.NewPlanningSessionService(db),
		system:    systemService,
		planner:   service.NewAIPlanService(systemService, eventService),
		inFlight:  make(map[uint]bool),
	}
}

// Planner exposes the plan service for test overrides.
func (a *API) Planner() *service.AIPlanService {
	return a.planner
}

// HabitLogs exposes the habit log service for clock injection in tests.
func (a *API) HabitLogs() *service.HabitLogService {
	return a.habitLogs
}

func (a *API) tryAcquireStream(sessionID uint) bool {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if a.inFlight[sessionID] {
		return false
	}
	a.inFlight[sessionID] = true
	return true
}

func (a *API) releaseStream(sessionID uint) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	delete(a.inFlight, sessionID)
}
