package providers

import (
	"github.com/samber/do/v2"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/logger"
	"github.com/circulateapp/circulate-server/internal/notify"
	"github.com/circulateapp/circulate-server/internal/service"
)

// OverdueServiceHandle wraps the overdue sweep service with shutdown capability.
type OverdueServiceHandle struct {
	*service.OverdueService
}

// Shutdown implements do.Shutdownable.
func (h *OverdueServiceHandle) Shutdown() error {
	h.OverdueService.Stop()
	return nil
}

// ProvideOverdueService provides the background overdue sweep.
func ProvideOverdueService(i do.Injector) (*OverdueServiceHandle, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	fineService := do.MustInvoke[*service.FineService](i)
	gateway := do.MustInvoke[notify.Gateway](i)
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	svc := service.NewOverdueService(storeHandle.Store, fineService, gateway, cfg, log.Logger)
	svc.Start()

	log.Info("Overdue sweep started",
		"enabled", cfg.Sweep.Enabled,
		"interval", cfg.Sweep.Interval,
	)

	return &OverdueServiceHandle{OverdueService: svc}, nil
}
