package providers

import (
	"github.com/samber/do/v2"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/identity"
	"github.com/circulateapp/circulate-server/internal/logger"
	"github.com/circulateapp/circulate-server/internal/notify"
	"github.com/circulateapp/circulate-server/internal/service"
)

// ProvideIdentityProvider provides the request identity resolver.
func ProvideIdentityProvider(i do.Injector) (identity.Provider, error) {
	return identity.NewHeaderProvider(), nil
}

// ProvideNotifyGateway provides the overdue reminder gateway.
func ProvideNotifyGateway(i do.Injector) (notify.Gateway, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return notify.NewLogGateway(log.Logger), nil
}

// ProvideBookService provides the catalog service.
func ProvideBookService(i do.Injector) (*service.BookService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewBookService(storeHandle.Store, log.Logger), nil
}

// ProvideFineService provides the fine lifecycle service.
func ProvideFineService(i do.Injector) (*service.FineService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewFineService(storeHandle.Store, cfg, log.Logger), nil
}

// ProvideCirculationService provides the loan lifecycle service.
func ProvideCirculationService(i do.Injector) (*service.CirculationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	fineService := do.MustInvoke[*service.FineService](i)
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCirculationService(storeHandle.Store, fineService, cfg, log.Logger), nil
}

// ProvideUserStatusService provides the user standing service.
func ProvideUserStatusService(i do.Injector) (*service.UserStatusService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewUserStatusService(storeHandle.Store, cfg, log.Logger), nil
}
