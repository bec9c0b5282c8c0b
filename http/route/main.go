package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/http/controller"
	middlewares "github.com/tnqbao/gau-music-dispatch/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}
	r.Use(middles.CORSMiddleware)

	r.GET("/health", ctrl.CheckHealth)

	apiRoutes := r.Group(controller.APIBase)
	{
		apiRoutes.GET("/health", ctrl.CheckHealth)

		apiRoutes.POST("/generate", ctrl.Generate)
		apiRoutes.POST("/train/lora", ctrl.TrainLora)
		apiRoutes.GET("/status/:id", ctrl.GetStatus)
		apiRoutes.GET("/files/:name", ctrl.GetFile)

		jobRoutes := apiRoutes.Group("/jobs")
		{
			jobRoutes.POST("", ctrl.SubmitJob)
			jobRoutes.POST("/:id/cancel", ctrl.CancelJob)
			jobRoutes.GET("/:id/artifact", ctrl.GetArtifact)
		}

		workerRoutes := apiRoutes.Group("/workers")
		{
			workerRoutes.Use(middles.WorkerMiddleware)

			workerRoutes.POST("/register", ctrl.RegisterWorker)
			workerRoutes.POST("/:id/heartbeat", ctrl.Heartbeat)
			workerRoutes.POST("/:id/claim", ctrl.ClaimJob)
			workerRoutes.POST("/:id/progress", ctrl.ReportProgress)
			workerRoutes.POST("/:id/result", ctrl.ReportResult)
			workerRoutes.POST("/:id/jobs/:job_id/upload", ctrl.UploadArtifact)
			workerRoutes.DELETE("/:id", ctrl.DeregisterWorker)
		}

		adminRoutes := apiRoutes.Group("/admin")
		{
			adminRoutes.Use(middles.AdminMiddleware)

			adminRoutes.GET("/overview", ctrl.GetOverview)
			adminRoutes.GET("/jobs", ctrl.ListJobs)
			adminRoutes.GET("/workers", ctrl.ListWorkers)
			adminRoutes.PUT("/workers/desired", ctrl.SetDesiredWorkers)
		}
	}
	return r
}
