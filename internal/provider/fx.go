package provider

import (
	"github.com/smallbiznis/payrouter/internal/provider/repository"
	"github.com/smallbiznis/payrouter/internal/provider/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
