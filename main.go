package main

import (
	"exam_capture_backend/internal/app"
	"exam_capture_backend/internal/config"
	"exam_capture_backend/pkg/configwatcher"
	"flag"
	"log"
)

// @title 试卷拍照识别服务 API
// @version 1.0
// @description 答题卡拍照上传、识别对账的后端服务
// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	migrateOnly := flag.Bool("migrate-only", false, "仅执行数据库迁移后退出")
	forceMigrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly
	cfg.ForceMigrate = *forceMigrate

	application := app.NewApp(cfg)

	if cfg.MigrateOnly {
		log.Println("Migration completed, exiting")
		return
	}

	// 配置热更新
	go configwatcher.WatchConfig("configs/config.yaml", application.ReloadConfig)

	application.Run()
}
