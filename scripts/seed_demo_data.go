package main

import (
	"fmt"
	"log"
	"time"

	"github.com/dayflow/internal/config"
	"github.com/dayflow/internal/db"
	"github.com/dayflow/internal/service"
	"golang.org/x/crypto/bcrypt"
)

// 演示数据生成器
func main() {
	// 初始化数据库
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")

	user := createDemoUser()
	habits := createDemoHabits(user.ID)
	createDemoLogs(user.ID, habits)
	createDemoEvents(user.ID)

	fmt.Println("演示数据生成完成！")
	fmt.Println("用户: demo (密码: demo123)")
	fmt.Printf("习惯: %d 个，含最近一周的打卡记录\n", len(habits))
	fmt.Println("日程: 今日已有若干事件")
}

// 创建演示用户
func createDemoUser() db.User {
	var user db.User
	if err := db.DB.Where("username = ?", "demo").First(&user).Error; err == nil {
		fmt.Println("演示用户已存在，跳过创建")
		return user
	}

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("demo123"), bcrypt.DefaultCost)
	user = db.User{
		Username:    "demo",
		Password:    string(hashedPassword),
		DisplayName: "演示用户",
		Email:       "demo@example.com",
		Timezone:    "Asia/Shanghai",
	}
	if err := db.DB.Create(&user).Error; err != nil {
		log.Fatal("创建演示用户失败:", err)
	}

	fmt.Println("✅ 演示用户创建完成")
	return user
}

// 创建演示习惯
func createDemoHabits(userID uint) []db.Habit {
	var count int64
	db.DB.Model(&db.Habit{}).Where("user_id = ?", userID).Count(&count)
	if count > 0 {
		fmt.Println("习惯已存在，跳过创建")
		var habits []db.Habit
		db.DB.Where("user_id = ?", userID).Find(&habits)
		return habits
	}

	svc := service.NewHabitService(db.DB)
	inputs := []service.HabitInput{
		{Name: "晨间冥想", Description: "起床后 10 分钟正念冥想", Frequency: "daily", PreferredTime: "morning", DurationMinutes: 10, Color: "#8b5cf6"},
		{Name: "跑步", Description: "慢跑 5 公里", Frequency: "weekdays", PreferredTime: "morning", DurationMinutes: 40, Color: "#22c55e"},
		{Name: "阅读", Description: "读 30 页非虚构", Frequency: "daily", PreferredTime: "evening", DurationMinutes: 30, Color: "#f59e0b"},
		{Name: "复盘周记", Description: "回顾一周得失", Frequency: "weekly", PreferredTime: "evening", DurationMinutes: 20, Color: "#3b82f6"},
	}

	habits := make([]db.Habit, 0, len(inputs))
	for _, input := range inputs {
		habit, err := svc.Create(userID, input)
		if err != nil {
			log.Printf("创建习惯失败: %v", err)
			continue
		}
		habits = append(habits, *habit)
	}

	fmt.Println("✅ 演示习惯创建完成")
	return habits
}

// 创建最近一周的打卡记录，留出一个断档日让连胜看起来真实
func createDemoLogs(userID uint, habits []db.Habit) {
	if len(habits) == 0 {
		return
	}

	logs := service.NewHabitLogService(db.DB)
	today := time.Now()

	for idx, habit := range habits {
		for offset := 6; offset >= 0; offset-- {
			date := today.AddDate(0, 0, -offset)
			// 每个习惯错开一个未完成日
			completed := offset != (idx+2)%5
			if _, err := logs.Upsert(userID, service.HabitLogInput{
				HabitID:   habit.ID,
				LogDate:   date.Format("2006-01-02"),
				Completed: completed,
			}); err != nil {
				log.Printf("写入打卡记录失败: %v", err)
			}
		}
	}

	fmt.Println("✅ 演示打卡记录创建完成")
}

// 创建今日日程
func createDemoEvents(userID uint) {
	today := time.Now().Format("2006-01-02")

	var count int64
	db.DB.Model(&db.CalendarEvent{}).Where("user_id = ? AND date = ?", userID, today).Count(&count)
	if count > 0 {
		fmt.Println("今日日程已存在，跳过创建")
		return
	}

	svc := service.NewEventService(db.DB)
	inputs := []service.EventInput{
		{Title: "早餐", StartTime: today + "T08:00:00", EndTime: today + "T08:30:00", Category: "meal"},
		{Title: "专注开发", Description: "核心功能迭代", StartTime: today + "T09:30:00", EndTime: today + "T12:00:00", Category: "work"},
		{Title: "午餐", StartTime: today + "T12:00:00", EndTime: today + "T13:00:00", Category: "meal"},
		{Title: "团队周会", StartTime: today + "T14:00:00", EndTime: today + "T15:00:00", Category: "work"},
		{Title: "晚间阅读", StartTime: today + "T21:00:00", EndTime: today + "T21:30:00", Category: "personal"},
	}

	if _, err := svc.CreateBatch(userID, inputs); err != nil {
		log.Printf("创建今日日程失败: %v", err)
		return
	}

	fmt.Println("✅ 今日日程创建完成")
}
