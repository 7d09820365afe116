package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/ai_notifier/internal/cdp"
	"github.com/dgnsrekt/ai_notifier/internal/controller"
	"github.com/dgnsrekt/ai_notifier/internal/events"
	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Health(ctx context.Context) (controller.Health, error)
	Services() []service.Info
	Tabs(serviceID string) ([]cdp.TabInfo, error)
	ListRequests(ctx context.Context) ([]tracker.TrackedRequest, error)
	ListNotifications(ctx context.Context) ([]tracker.NotificationRecord, error)
	ClickNotification(ctx context.Context, notificationID string) error
	Sweep(ctx context.Context) (tracker.SweepResult, error)
}

type notificationIDInput struct {
	NotificationID string `path:"notification_id" doc:"Notification id, e.g. ai-response-0190b0c2-..."`
}

type tabsInput struct {
	Service string `query:"service" doc:"Only tabs inside this service's URL patterns."`
}

func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("AI Notifier API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlHandler(docsHTML))
	router.Get("/docs/events", htmlHandler(eventsDocsHTML))
	router.Get("/api/v1/events", events.SSEHandler(broker))

	registerStatusHandlers(api, svc)
	registerTrackerHandlers(api, svc)

	return router
}

func htmlHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body controller.Health
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			h, err := svc.Health(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &healthOutput{Body: h}, nil
		})

	type servicesOutput struct {
		Body struct {
			Services []service.Info `json:"services"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-services", Method: http.MethodGet, Path: "/api/v1/services", Summary: "List watched AI services", Tags: []string{"Services"}},
		func(ctx context.Context, input *struct{}) (*servicesOutput, error) {
			out := &servicesOutput{}
			out.Body.Services = svc.Services()
			return out, nil
		})

	type tabsOutput struct {
		Body struct {
			Tabs []cdp.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List known browser tabs", Tags: []string{"Services"}},
		func(ctx context.Context, input *tabsInput) (*tabsOutput, error) {
			tabs, err := svc.Tabs(input.Service)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})
}

func registerTrackerHandlers(api huma.API, svc Service) {
	type requestsOutput struct {
		Body struct {
			Requests []tracker.TrackedRequest `json:"requests"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List in-flight completion requests", Tags: []string{"Tracker"}},
		func(ctx context.Context, input *struct{}) (*requestsOutput, error) {
			reqs, err := svc.ListRequests(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &requestsOutput{}
			out.Body.Requests = reqs
			return out, nil
		})

	type notificationsOutput struct {
		Body struct {
			Notifications []tracker.NotificationRecord `json:"notifications"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-notifications", Method: http.MethodGet, Path: "/api/v1/notifications", Summary: "List notifications awaiting a click", Tags: []string{"Tracker"}},
		func(ctx context.Context, input *struct{}) (*notificationsOutput, error) {
			notes, err := svc.ListNotifications(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &notificationsOutput{}
			out.Body.Notifications = notes
			return out, nil
		})

	type clickOutput struct {
		Body struct {
			NotificationID string `json:"notification_id"`
			Status         string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "click-notification", Method: http.MethodPost, Path: "/api/v1/notifications/{notification_id}/click", Summary: "Route a notification click to its tab", Tags: []string{"Tracker"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *notificationIDInput) (*clickOutput, error) {
			if err := svc.ClickNotification(ctx, input.NotificationID); err != nil {
				return nil, mapErr(err)
			}
			out := &clickOutput{}
			out.Body.NotificationID = input.NotificationID
			out.Body.Status = "accepted"
			return out, nil
		})

	type sweepOutput struct {
		Body tracker.SweepResult
	}
	huma.Register(api, huma.Operation{OperationID: "janitor-sweep", Method: http.MethodPost, Path: "/api/v1/janitor/sweep", Summary: "Run a janitor pass now", Tags: []string{"Tracker"}},
		func(ctx context.Context, input *struct{}) (*sweepOutput, error) {
			res, err := svc.Sweep(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &sweepOutput{Body: res}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeCDPUnavailable, cdp.CodeCDPFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
