package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"wabridge/internal/config"
	"wabridge/internal/dedup"
	"wabridge/internal/http-server/handlers/amocrm"
	"wabridge/internal/http-server/handlers/errors"
	"wabridge/internal/http-server/handlers/stream"
	"wabridge/internal/http-server/handlers/whatsapp"
	"wabridge/internal/http-server/middleware/timeout"
	"wabridge/internal/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

// RelayCore is the union of relay operations the route table drives.
type RelayCore interface {
	whatsapp.Core
	amocrm.Core
}

// Deps collects everything the route table wires into handlers.
type Deps struct {
	Relay      RelayCore
	Account    whatsapp.Account
	Leads      amocrm.LeadResolver
	Guard      *dedup.Guard
	Statuses   whatsapp.StatusSink
	Mirror     amocrm.TemplateMirror
	Templates  amocrm.TemplateStore
	Subscriber stream.Subscriber
}

func New(conf *config.Config, log *slog.Logger, deps Deps) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	// JSON surface runs under a request deadline; the stream route must not,
	// a WebSocket lives as long as the subscriber does.
	router.Group(func(r chi.Router) {
		r.Use(timeout.Timeout(15))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/meta", func(r chi.Router) {
			r.Get("/webhook", whatsapp.WebhookVerify(log, conf.Meta.VerifyToken))
			r.Post("/webhook", whatsapp.Webhook(log, deps.Relay, deps.Guard, deps.Statuses))
			r.Post("/send", whatsapp.Send(log, deps.Relay))
			r.Post("/send_template", whatsapp.SendTemplate(log, deps.Relay))
			r.Get("/templates", whatsapp.Templates(log, deps.Account))
			r.Get("/numbers", whatsapp.Numbers(log, deps.Account))
			r.Post("/register_number", whatsapp.RegisterNumber(log, deps.Account))
			r.Post("/success_number", whatsapp.ConfirmNumber(log, deps.Account))
		})

		r.Route("/amo", func(r chi.Router) {
			r.Post("/webhook", amocrm.Webhook(log, deps.Relay, deps.Guard, conf.Chat.Secret))
			r.Post("/send-message", amocrm.NoteWebhook(log, deps.Relay, deps.Leads, deps.Guard))
		})

		r.Route("/api/v1", func(v1 chi.Router) {
			v1.Post("/templates/sync", amocrm.SyncTemplates(log, deps.Account, deps.Mirror, deps.Templates))
		})
	})

	router.Get("/stream/{conversation_id}", stream.Conversation(log, deps.Subscriber))

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
