package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dayflow/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrEventNotFound 在指定日程不存在或不属于当前用户时返回
	ErrEventNotFound = errors.New("event not found")
	// ErrEventInvalidTime 当时间字段非法或与冗余日期不一致时返回
	ErrEventInvalidTime = errors.New("invalid event time")
)

const timestampLayout = "2006-01-02T15:04:05"

// EventService 负责日历日程的增删改查
// Date 为冗余字段，写入时从 StartTime 推导，保证与时间戳一致

type EventService struct {
	db *gorm.DB
}

// EventInput 定义创建/更新日程时可配置字段
type EventInput struct {
	Title             string
	Description       string
	StartTime         string
	EndTime           string
	Category          string
	IsRecurring       bool
	RecurrencePattern string
	Source            string
	Completed         *bool
}

// EventRangeFilter 指定按日期区间查询的条件
type EventRangeFilter struct {
	UserID uint
	Start  string
	End    string
}

// NewEventService 构造 EventService
func NewEventService(gdb *gorm.DB) *EventService {
	return &EventService{db: gdb}
}

// ListByDate 返回用户某一天的日程，按开始时间排序
func (s *EventService) ListByDate(userID uint, date string) ([]db.CalendarEvent, error) {
	var events []db.CalendarEvent
	if err := s.db.Where("user_id = ? AND date = ?", userID, date).
		Order("start_time ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events by date: %w", err)
	}
	return events, nil
}

// ListRange 返回用户某个日期区间内的日程
func (s *EventService) ListRange(filter EventRangeFilter) ([]db.CalendarEvent, error) {
	var events []db.CalendarEvent
	if err := s.db.Where("user_id = ?", filter.UserID).
		Where("date BETWEEN ? AND ?", filter.Start, filter.End).
		Order("date ASC, start_time ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events by range: %w", err)
	}
	return events, nil
}

// Get 根据 ID 获取日程，校验归属
func (s *EventService) Get(userID, id uint) (*db.CalendarEvent, error) {
	var event db.CalendarEvent
	if err := s.db.Where("user_id = ?", userID).First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

// Create 新建单条日程
func (s *EventService) Create(userID uint, input EventInput) (*db.CalendarEvent, error) {
	event, err := buildEvent(userID, input)
	if err != nil {
		return nil, err
	}

	if err := s.db.Create(event).Error; err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

// CreateBatch 在单个事务内批量创建日程，任一条失败则整体回滚。
func (s *EventService) CreateBatch(userID uint, inputs []EventInput) ([]db.CalendarEvent, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("event batch is empty")
	}

	events := make([]db.CalendarEvent, 0, len(inputs))
	for _, input := range inputs {
		event, err := buildEvent(userID, input)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range events {
			if err := tx.Create(&events[i]).Error; err != nil {
				return fmt.Errorf("create event %q: %w", events[i].Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create event batch: %w", err)
	}

	return events, nil
}

// Update 更新日程字段
func (s *EventService) Update(userID, id uint, input EventInput) (*db.CalendarEvent, error) {
	existing, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	updated, err := buildEvent(userID, input)
	if err != nil {
		return nil, err
	}

	existing.Title = updated.Title
	existing.Description = updated.Description
	existing.StartTime = updated.StartTime
	existing.EndTime = updated.EndTime
	existing.Date = updated.Date
	existing.Category = updated.Category
	existing.IsRecurring = updated.IsRecurring
	existing.RecurrencePattern = updated.RecurrencePattern
	if input.Completed != nil {
		existing.Completed = input.Completed
	}

	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return existing, nil
}

// Delete 删除单条日程
func (s *EventService) Delete(userID, id uint) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}
	if err := s.db.Delete(&db.CalendarEvent{}, id).Error; err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// DeleteByDate 删除用户某一天的全部日程，返回删除条数
func (s *EventService) DeleteByDate(userID uint, date string) (int64, error) {
	result := s.db.Where("user_id = ? AND date = ?", userID, date).Delete(&db.CalendarEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete events by date: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func buildEvent(userID uint, input EventInput) (*db.CalendarEvent, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("event title is required")
	}

	start := strings.TrimSpace(input.StartTime)
	end := strings.TrimSpace(input.EndTime)
	if _, err := time.Parse(timestampLayout, start); err != nil {
		return nil, fmt.Errorf("%w: start %q", ErrEventInvalidTime, input.StartTime)
	}
	if _, err := time.Parse(timestampLayout, end); err != nil {
		return nil, fmt.Errorf("%w: end %q", ErrEventInvalidTime, input.EndTime)
	}
	if end[:10] != start[:10] {
		return nil, fmt.Errorf("%w: start and end on different dates", ErrEventInvalidTime)
	}

	category := strings.TrimSpace(strings.ToLower(input.Category))
	if !db.ValidEventCategory(category) {
		category = db.EventCategoryOther
	}

	source := strings.TrimSpace(strings.ToLower(input.Source))
	if source != db.EventSourceAI {
		source = db.EventSourceUser
	}

	return &db.CalendarEvent{
		UserID:            userID,
		Title:             title,
		Description:       strings.TrimSpace(input.Description),
		StartTime:         start,
		EndTime:           end,
		Date:              start[:10],
		Category:          category,
		IsRecurring:       input.IsRecurring,
		RecurrencePattern: strings.TrimSpace(input.RecurrencePattern),
		Source:            source,
		Completed:         input.Completed,
	}, nil
}
