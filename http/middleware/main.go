package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/http/controller"
)

type Middlewares struct {
	CORSMiddleware   gin.HandlerFunc
	WorkerMiddleware gin.HandlerFunc
	AdminMiddleware  gin.HandlerFunc
}

func NewMiddlewares(ctrl *controller.Controller) (*Middlewares, error) {
	cors := CORSMiddleware(ctrl.Config.EnvConfig)
	worker := WorkerAuthMiddleware(ctrl.Config.EnvConfig)
	admin := AdminAuthMiddleware(ctrl.Config.EnvConfig)

	return &Middlewares{
		CORSMiddleware:   cors,
		WorkerMiddleware: worker,
		AdminMiddleware:  admin,
	}, nil
}
