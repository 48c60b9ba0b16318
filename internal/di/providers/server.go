package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/circulateapp/circulate-server/internal/api"
	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/identity"
	"github.com/circulateapp/circulate-server/internal/logger"
	"github.com/circulateapp/circulate-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	provider := do.MustInvoke[identity.Provider](i)
	log := do.MustInvoke[*logger.Logger](i)

	services := &api.Services{
		Book:        do.MustInvoke[*service.BookService](i),
		Circulation: do.MustInvoke[*service.CirculationService](i),
		Fine:        do.MustInvoke[*service.FineService](i),
		UserStatus:  do.MustInvoke[*service.UserStatusService](i),
		Overdue:     do.MustInvoke[*OverdueServiceHandle](i).OverdueService,
	}

	handler := api.NewServer(storeHandle.Store, services, provider, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
