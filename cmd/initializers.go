package main

import (
	"fmt"
	"net/http"
	"time"

	"streamscaler/app/handler"
	"streamscaler/app/router"
	"streamscaler/pkg/config"
	"streamscaler/pkg/logger"
	awsprovider "streamscaler/pkg/provider/aws"
	asynqqueue "streamscaler/pkg/queue/asynq"
	"streamscaler/pkg/scaler"
	mysqlstore "streamscaler/pkg/store/mysql"
	redisstore "streamscaler/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initMySQL initializes the audit log store. A missing MySQL section is
// not fatal, the engine simply runs without history.
func (app *Application) initMySQL() error {
	if app.config.MySQL.Host == "" {
		logger.InfoCtx(app.ctx, "MySQL not configured, audit log disabled")
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	ds, err := mysqlstore.NewDatastore(dsn)
	if err != nil {
		return err
	}

	app.datastore = ds
	app.recordRepo = mysqlstore.NewScalingRecordRepository(ds)
	app.registerCleanup(func() {
		ds.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initAWS initializes provider clients
func (app *Application) initAWS() error {
	clients, err := awsprovider.NewClients(app.ctx, &app.config.AWS)
	if err != nil {
		return err
	}
	app.awsClients = clients
	return nil
}

// initEngine initializes the scaling engine
func (app *Application) initEngine() error {
	policy, err := scaler.ForName(app.config.Scaler.Policy)
	if err != nil {
		return err
	}

	app.engine = scaler.NewEngine(
		&app.config.Scaler,
		policy,
		app.awsClients.Telemetry,
		app.awsClients.Streams,
		app.awsClients.Watch,
		app.awsClients.Limiter,
		app.redisClient.GetClient(),
		app.recordRepo,
	)

	logger.InfoCtx(app.ctx, "scaling engine ready, policy: %s", policy.Name())
	return nil
}

// initQueue initializes the invocation queue
func (app *Application) initQueue() error {
	manager, err := asynqqueue.NewManager(app.config)
	if err != nil {
		return err
	}

	manager.RegisterHandler(asynqqueue.TypeScaleEvent, asynqqueue.NewScaleEventHandler(app.engine))

	app.queueManager = manager
	app.registerCleanup(func() {
		manager.Close()
		logger.InfoCtx(app.ctx, "Queue client has been closed")
	})

	return nil
}

// initHandlers initializes the handler layer
func (app *Application) initHandlers() error {
	app.notificationHandler = handler.NewNotificationHandler(app.queueManager)
	app.scalerHandler = handler.NewScalerHandler(app.engine, app.awsClients.Streams, app.queueManager, app.recordRepo)
	return nil
}

// initHTTPServer initializes the HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	r := router.NewRouter(app.notificationHandler, app.scalerHandler)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:      app.ginEngine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return nil
}
