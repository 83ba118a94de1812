// 手动回收过期拍照会话脚本
//
// 该功能已集成到主应用的后台定时任务中（每分钟自动执行一次）。
// 此脚本仅用于手动触发，例如服务长时间停机后积压了大量过期会话。
//
// 用法: go run scripts/reap_sessions.go

package main

import (
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/repository"
	"exam_capture_backend/pkg/database"
	"exam_capture_backend/pkg/logger"
	"log"
	"time"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	repo := repository.NewCaptureSessionRepository(db, nil)

	log.Println("手动回收过期会话...")
	reaped, err := repo.CancelExpired(time.Now())
	if err != nil {
		log.Fatalf("回收失败: %v", err)
	}
	log.Printf("完成，共取消 %d 个过期会话", reaped)
}
