package controller

import (
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/repository"
)

// APIBase prefixes every dispatch route.
const APIBase = "/api/v1/dispatch"

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository
	Dispatcher *dispatch.Dispatcher
}

func NewController(config *config.Config, infra *infra.Infra, repo *repository.Repository, dispatcher *dispatch.Dispatcher) *Controller {
	if repo == nil {
		panic("Failed to initialize Repository")
	}
	if dispatcher == nil {
		panic("Failed to initialize Dispatcher")
	}
	return &Controller{
		Config:     config,
		Infra:      infra,
		Repository: repo,
		Dispatcher: dispatcher,
	}
}
