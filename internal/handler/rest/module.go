package rest

import (
	"net/http"

	"github.com/webitel/im-notification-service/infra/auth"
	httpsrv "github.com/webitel/im-notification-service/infra/server/http"
	"github.com/webitel/im-notification-service/internal/domain/registry"
	"github.com/webitel/im-notification-service/internal/handler/lp"
	"github.com/webitel/im-notification-service/internal/handler/ws"
	"go.uber.org/fx"
)

var Module = fx.Module("http-handlers",
	fx.Provide(
		auth.NewVerifier,
		NewHandler,
		ws.NewWSHandler,
		lp.NewLPHandler,
	),
	fx.Invoke(Register),
)

// Register mounts every HTTP surface on the shared router.
func Register(srv *httpsrv.Server, h *Handler, wsh *ws.WSHandler, lph *lp.LPHandler, hub registry.Hubber) {
	r := srv.Router

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, hub.Stats())
	})
	r.Handle("/ws", wsh)

	h.Routes(r, lph.Poll)
}
