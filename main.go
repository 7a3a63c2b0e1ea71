package main

import (
	"fmt"

	"ScriptToShots-server/config"
	"ScriptToShots-server/models"
	"ScriptToShots-server/routers"
	"ScriptToShots-server/routers/api"
	"ScriptToShots-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	store := service.NewDBStore(models.GormDB)
	worker := service.NewWorkerClient()
	registry := service.NewRegistry(worker)
	hub := service.NewHub()
	executor := service.NewExecutor(store, registry, hub)

	cfg := config.AppConfig.Analyzer
	orchestrator := service.NewOrchestrator(
		store,
		service.NewClassifier(worker),
		service.NewAnalyzer(worker, cfg.MinorThreshold, cfg.FallbackThreshold),
		registry,
		executor,
		service.QueueScheduler{},
	)

	service.StartProcessor(executor, 5)
	api.Setup(orchestrator, hub, store)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
