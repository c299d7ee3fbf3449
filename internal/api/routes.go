package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskguard/internal/api/handlers"
	"riskguard/internal/api/middleware"
	"riskguard/internal/service"
	"riskguard/internal/websocket"
	"riskguard/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	StopService         service.StopServiceInterface
	RiskService         service.RiskServiceInterface
	NotificationService service.NotificationServiceInterface
	TradeService        service.TradeServiceInterface
	Monitor             service.MonitorStatusProvider
	Hub                 *websocket.Hub

	// bcrypt-хеш API токена, пустой - без аутентификации
	AuthTokenHash string
	CORSOrigins   []string
	Logger        *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /stops/
//	│   ├── GET / - все защитные конфигурации
//	│   ├── POST / - установить стоп
//	│   ├── GET /{symbol} - конфигурация символа
//	│   ├── DELETE /{symbol} - снять защиту
//	│   └── POST /{symbol}/take-profit - установить тейк-профит
//	├── /risk/
//	│   ├── GET / - состояние рисков
//	│   ├── PUT /limits - заменить лимиты
//	│   ├── POST /position-size - расчет объема
//	│   ├── POST /check - проверка ордера
//	│   ├── POST /halt - ручная остановка
//	│   └── POST /reset - дневной сброс
//	├── GET /monitor - состояние планировщика
//	├── GET /trades - история выходов
//	└── GET /notifications - журнал событий
//
// /ws/stream - WebSocket для real-time обновлений
// /health, /metrics - без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging и Metrics (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Metrics)
	router.Use(middleware.CORS(deps.CORSOrigins))

	auth := middleware.NewAuthenticator(deps.AuthTokenHash, logger)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware)

	// Stop routes
	if deps.StopService != nil {
		stopHandler := handlers.NewStopHandler(deps.StopService)
		api.HandleFunc("/stops", stopHandler.GetStops).Methods("GET")
		api.HandleFunc("/stops", stopHandler.SetStop).Methods("POST")
		api.HandleFunc("/stops/{symbol}", stopHandler.GetStop).Methods("GET")
		api.HandleFunc("/stops/{symbol}", stopHandler.RemoveStop).Methods("DELETE")
		api.HandleFunc("/stops/{symbol}/take-profit", stopHandler.SetTakeProfit).Methods("POST")
	}

	// Risk routes
	if deps.RiskService != nil {
		riskHandler := handlers.NewRiskHandler(deps.RiskService)
		api.HandleFunc("/risk", riskHandler.GetRisk).Methods("GET")
		api.HandleFunc("/risk/limits", riskHandler.ConfigureLimits).Methods("PUT")
		api.HandleFunc("/risk/position-size", riskHandler.PositionSize).Methods("POST")
		api.HandleFunc("/risk/check", riskHandler.CheckOrder).Methods("POST")
		api.HandleFunc("/risk/halt", riskHandler.Halt).Methods("POST")
		api.HandleFunc("/risk/reset", riskHandler.Reset).Methods("POST")
	}

	// Notification routes
	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	statusHandler := handlers.NewStatusHandler(deps.Monitor, deps.TradeService, deps.RiskService)
	api.HandleFunc("/monitor", statusHandler.GetMonitor).Methods("GET")
	api.HandleFunc("/trades", statusHandler.GetTrades).Methods("GET")

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		router.Handle("/ws/stream", auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		}))).Methods("GET")
	}

	router.HandleFunc("/health", statusHandler.Health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// preflight: без маршрута mux ответит 405 до CORS middleware
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}
