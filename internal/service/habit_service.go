package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dayflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHabitNotFound 在指定习惯不存在或不属于当前用户时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrHabitInvalidFrequency 当频率配置异常时返回
	ErrHabitInvalidFrequency = errors.New("invalid habit frequency configuration")
)

const dateLayout = "2006-01-02"

// HabitService 负责 Habit 数据的增删改查
// 所有操作按 UserID 过滤，删除习惯时级联清理打卡记录
// Frequency 支持 daily/weekdays/weekends/weekly/custom
// PreferredTime 仅使用 morning/afternoon/evening/flexible，默认 flexible

type HabitService struct {
	db *gorm.DB
}

// HabitFilter 描述列表过滤条件
type HabitFilter struct {
	UserID     uint
	ActiveOnly bool
	Search     string
}

// HabitInput 定义创建/更新习惯时可配置字段
type HabitInput struct {
	Name            string
	Description     string
	Frequency       string
	CustomDays      []int
	PreferredTime   string
	DurationMinutes int
	IsActive        *bool
	Color           string
}

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB) *HabitService {
	return &HabitService{db: gdb}
}

// List 返回用户的习惯集合，支持基本筛选
func (s *HabitService) List(filter HabitFilter) ([]db.Habit, error) {
	var habits []db.Habit

	query := s.db.Model(&db.Habit{}).Where("user_id = ?", filter.UserID)

	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.Search != "" {
		like := fmt.Sprintf("%%%s%%", strings.TrimSpace(filter.Search))
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	if err := query.Order("created_at DESC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	return habits, nil
}

// Get 根据 ID 获取习惯，校验归属
func (s *HabitService) Get(userID, id uint) (*db.Habit, error) {
	var habit db.Habit
	if err := s.db.Where("user_id = ?", userID).First(&habit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	return &habit, nil
}

// Create 新建习惯，连胜字段从 0 开始
func (s *HabitService) Create(userID uint, input HabitInput) (*db.Habit, error) {
	if err := validateHabitInput(input); err != nil {
		return nil, err
	}

	habit := db.Habit{
		UserID:          userID,
		Name:            strings.TrimSpace(input.Name),
		Description:     strings.TrimSpace(input.Description),
		Frequency:       normalizeFrequency(input.Frequency),
		CustomDays:      joinCustomDays(input.CustomDays),
		PreferredTime:   normalizePreferredTime(input.PreferredTime),
		DurationMinutes: input.DurationMinutes,
		IsActive:        true,
		Color:           strings.TrimSpace(input.Color),
	}
	if input.IsActive != nil {
		habit.IsActive = *input.IsActive
	}

	if err := s.db.Create(&habit).Error; err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &habit, nil
}

// Update 更新习惯，连胜字段不在可更新范围
func (s *HabitService) Update(userID, id uint, input HabitInput) (*db.Habit, error) {
	if err := validateHabitInput(input); err != nil {
		return nil, err
	}

	existing, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	existing.Name = strings.TrimSpace(input.Name)
	existing.Description = strings.TrimSpace(input.Description)
	existing.Frequency = normalizeFrequency(input.Frequency)
	existing.CustomDays = joinCustomDays(input.CustomDays)
	existing.PreferredTime = normalizePreferredTime(input.PreferredTime)
	existing.DurationMinutes = input.DurationMinutes
	existing.Color = strings.TrimSpace(input.Color)
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}

	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update habit: %w", err)
	}
	return existing, nil
}

// Delete 删除习惯并级联清理其全部打卡记录（同一事务内先日志后习惯）
func (s *HabitService) Delete(userID, id uint) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("habit_id = ?", id).Delete(&db.HabitLog{}).Error; err != nil {
			return fmt.Errorf("delete habit logs: %w", err)
		}
		if err := tx.Delete(&db.Habit{}, id).Error; err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cascade delete habit: %w", err)
	}
	return nil
}

func validateHabitInput(input HabitInput) error {
	freq := strings.TrimSpace(strings.ToLower(input.Frequency))
	switch freq {
	case db.HabitFrequencyDaily, db.HabitFrequencyWeekdays, db.HabitFrequencyWeekends,
		db.HabitFrequencyWeekly, db.HabitFrequencyCustom, "":
	default:
		return fmt.Errorf("%w: unsupported frequency %s", ErrHabitInvalidFrequency, input.Frequency)
	}

	if freq == db.HabitFrequencyCustom && len(input.CustomDays) == 0 {
		return fmt.Errorf("%w: custom frequency requires day set", ErrHabitInvalidFrequency)
	}
	for _, day := range input.CustomDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: day of week out of range", ErrHabitInvalidFrequency)
		}
	}

	if input.DurationMinutes < 0 {
		return fmt.Errorf("habit duration must be non-negative")
	}

	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("habit name is required")
	}

	return nil
}

func normalizeFrequency(frequency string) string {
	freq := strings.TrimSpace(strings.ToLower(frequency))
	if freq == "" {
		return db.HabitFrequencyDaily
	}
	return freq
}

func normalizePreferredTime(preferred string) string {
	switch strings.TrimSpace(strings.ToLower(preferred)) {
	case db.PreferredTimeMorning:
		return db.PreferredTimeMorning
	case db.PreferredTimeAfternoon:
		return db.PreferredTimeAfternoon
	case db.PreferredTimeEvening:
		return db.PreferredTimeEvening
	default:
		return db.PreferredTimeFlexible
	}
}

func joinCustomDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, 0, len(days))
	for _, day := range days {
		parts = append(parts, strconv.Itoa(day))
	}
	return strings.Join(parts, ",")
}

// HabitLogService 负责打卡与连胜计算
// 打卡写入提交后才触发重算，保证重算读到完整的日志集合
type HabitLogService struct {
	db  *gorm.DB
	now func() time.Time
}

// HabitLogInput 定义打卡时的输入对象
type HabitLogInput struct {
	HabitID   uint
	LogDate   string
	Completed bool
	Note      string
}

// HabitLogFilter 指定查询区间
type HabitLogFilter struct {
	HabitID uint
	Start   string
	End     string
}

// NewHabitLogService 构造 HabitLogService
func NewHabitLogService(gdb *gorm.DB) *HabitLogService {
	return &HabitLogService{db: gdb, now: time.Now}
}

// SetClock 覆盖"今天"的时间来源，测试时注入固定时钟。
func (s *HabitLogService) SetClock(now func() time.Time) {
	if now == nil {
		s.now = time.Now
		return
	}
	s.now = now
}

// Upsert 处理幂等打卡逻辑：同一 (habit, date) 已有记录时覆盖
// Completed/Note，否则创建，随后同步重算连胜。
func (s *HabitLogService) Upsert(userID uint, input HabitLogInput) (*db.HabitLog, error) {
	logDate := strings.TrimSpace(input.LogDate)
	if _, err := time.Parse(dateLayout, logDate); err != nil {
		return nil, fmt.Errorf("invalid log date %q", input.LogDate)
	}

	var habit db.Habit
	if err := s.db.Where("user_id = ?", userID).First(&habit, input.HabitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("find habit: %w", err)
	}

	record := db.HabitLog{
		HabitID:   input.HabitID,
		UserID:    userID,
		LogDate:   logDate,
		Completed: input.Completed,
		Note:      strings.TrimSpace(input.Note),
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "habit_id"}, {Name: "log_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed", "note", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert habit log: %w", err)
	}

	if err := s.db.Where("habit_id = ? AND log_date = ?", input.HabitID, logDate).First(&record).Error; err != nil {
		return nil, fmt.Errorf("reload habit log: %w", err)
	}

	// 重算是尽力而为的，失败不回滚已提交的打卡
	if err := s.RecomputeStreaks(input.HabitID, s.now()); err != nil {
		return nil, fmt.Errorf("recompute streaks: %w", err)
	}

	return &record, nil
}

// ListBetween 返回指定区间内的打卡记录
func (s *HabitLogService) ListBetween(filter HabitLogFilter) ([]db.HabitLog, error) {
	var logs []db.HabitLog

	if filter.HabitID == 0 {
		return nil, fmt.Errorf("habit id is required")
	}

	query := s.db.Where("habit_id = ?", filter.HabitID)
	if filter.Start != "" && filter.End != "" {
		query = query.Where("log_date BETWEEN ? AND ?", filter.Start, filter.End)
	}

	if err := query.Order("log_date ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list habit logs: %w", err)
	}

	return logs, nil
}

// ListByDate 返回用户某一天的全部打卡记录
func (s *HabitLogService) ListByDate(userID uint, date string) ([]db.HabitLog, error) {
	var logs []db.HabitLog
	if err := s.db.Where("user_id = ? AND log_date = ?", userID, date).
		Order("habit_id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list habit logs by date: %w", err)
	}
	return logs, nil
}

// RecomputeStreaks 按完整日志重算连胜并持久化。
// 算法：日志按日期降序，从今天起逐日比对——当天有完成记录则连胜加一
// 并后退一天；当天记录为未完成或缺失则中断。bestStreak 只增不减。
// 习惯不存在时视为 no-op：打卡已提交，重算是尽力而为。
func (s *HabitLogService) RecomputeStreaks(habitID uint, today time.Time) error {
	var habit db.Habit
	if err := s.db.First(&habit, habitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("find habit: %w", err)
	}

	var logs []db.HabitLog
	if err := s.db.Where("habit_id = ?", habitID).
		Order("log_date DESC").
		Find(&logs).Error; err != nil {
		return fmt.Errorf("load habit logs: %w", err)
	}

	current := 0
	checkDate := today
	expected := checkDate.Format(dateLayout)

	for _, entry := range logs {
		// 日期不等即视为断档，未来日期的杂散记录同样走这里中断
		if entry.LogDate != expected {
			break
		}
		if !entry.Completed {
			break
		}
		current++
		checkDate = checkDate.AddDate(0, 0, -1)
		expected = checkDate.Format(dateLayout)
	}

	best := habit.BestStreak
	if current > best {
		best = current
	}

	if err := s.db.Model(&db.Habit{}).Where("id = ?", habitID).
		Updates(map[string]interface{}{
			"current_streak": current,
			"best_streak":    best,
		}).Error; err != nil {
		return fmt.Errorf("persist streaks: %w", err)
	}

	return nil
}
