package rest

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
	"github.com/totegamma/sharedbag/internal/metrics"
	"github.com/totegamma/sharedbag/internal/present/rest/middleware"
	"github.com/totegamma/sharedbag/internal/present/rest/presenter"
	"github.com/totegamma/sharedbag/internal/usecase"
)

var tracer = otel.Tracer("rest")

// Subscriber streams the events of a pub/sub channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan sharedbag.Event, error)
}

type Handler struct {
	wallet      *usecase.WalletUsecase
	setups      *usecase.SetupUsecase
	signal      Subscriber
	explorerURL string
	rateLimit   middleware.RateLimitConfig
	validate    *validator.Validate
}

func NewHandler(
	wallet *usecase.WalletUsecase,
	setups *usecase.SetupUsecase,
	signal Subscriber,
	explorerURL string,
	rateLimit middleware.RateLimitConfig,
) *Handler {
	return &Handler{
		wallet:      wallet,
		setups:      setups,
		signal:      signal,
		explorerURL: explorerURL,
		rateLimit:   rateLimit,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/embedded-wallet", h.handleEmbeddedWallet, middleware.RateLimit(h.rateLimit))

	g := e.Group("/api/setups")
	g.POST("", h.handleCreateSetup)
	g.GET("/:id", h.handleGetSetup)
	g.POST("/:id/entries", h.handleAddEntry)
	g.PUT("/:id/entries/:entry", h.handleSetEntry)
	g.DELETE("/:id/entries/:entry", h.handleRemoveEntry)
	g.POST("/:id/confirm", h.handleConfirm)
	g.POST("/:id/continue", h.handleContinue)
	g.POST("/:id/fund", h.handleFund)
	g.POST("/:id/token", h.handleCreateToken)
	g.POST("/:id/retry", h.handleRetry)
	g.GET("/:id/events", h.handleEvents)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
}

// handleEmbeddedWallet proxies wallet creation to the provider. Anything
// other than a validation or upstream error is reported generically.
func (h *Handler) handleEmbeddedWallet(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Rest.Handler.EmbeddedWallet")
	defer span.End()

	var req sharedbag.EmbeddedWalletRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, "Email and environmentId are required")
	}

	wallet, err := h.wallet.Provision(ctx, req)
	if err != nil {
		span.RecordError(err)
		var upstream *domain.UpstreamError
		if errors.Is(err, domain.ErrValidation) || errors.As(err, &upstream) {
			return presenter.Error(c, err)
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, wallet)
}

type setupView struct {
	domain.GroupSetupState
	Links map[string]string `json:"links,omitempty"`
}

func (h *Handler) view(state domain.GroupSetupState) setupView {
	links := map[string]string{}
	if state.SharedAccountAddress != "" {
		links["sharedAccount"] = sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkAddress, state.SharedAccountAddress)
	}
	if state.TokenTxHash != "" {
		links["tokenTx"] = sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkTx, state.TokenTxHash)
	}
	if state.TokenAddress != "" {
		links["token"] = sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkToken, state.TokenAddress)
	}
	if n := len(state.FundingTxHashes); n > 0 {
		links["lastFundingTx"] = sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkTx, state.FundingTxHashes[n-1])
	}
	if len(links) == 0 {
		links = nil
	}
	return setupView{GroupSetupState: state, Links: links}
}

func (h *Handler) handleCreateSetup(c echo.Context) error {
	state, err := h.setups.Create(c.Request().Context())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, h.view(state))
}

func (h *Handler) handleGetSetup(c echo.Context) error {
	state, err := h.setups.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(state))
}

func (h *Handler) handleAddEntry(c echo.Context) error {
	entry, err := h.setups.AddEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, entry)
}

type entryInputRequest struct {
	Input string `json:"input" validate:"max=320"`
}

func (h *Handler) handleSetEntry(c echo.Context) error {
	var req entryInputRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return presenter.BadRequest(c, err)
	}

	entry, err := h.setups.SetEntryInput(c.Request().Context(), c.Param("id"), c.Param("entry"), req.Input)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, entry)
}

func (h *Handler) handleRemoveEntry(c echo.Context) error {
	err := h.setups.RemoveEntry(c.Request().Context(), c.Param("id"), c.Param("entry"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) handleConfirm(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Rest.Handler.Confirm")
	defer span.End()

	state, err := h.setups.Confirm(ctx, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		if state.Stage == domain.StageFailed {
			return presenter.Status(c, http.StatusBadGateway, state.LastError)
		}
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(state))
}

func (h *Handler) handleContinue(c echo.Context) error {
	state, err := h.setups.Continue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(state))
}

type fundRequest struct {
	AmountWei string `json:"amountWei" validate:"required,number"`
}

type txResponse struct {
	TxHash      string `json:"txHash"`
	ExplorerURL string `json:"explorerUrl"`
}

func (h *Handler) handleFund(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Rest.Handler.Fund")
	defer span.End()

	var req fundRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return presenter.BadRequestMessage(c, "Please enter a valid amount")
	}
	amount, ok := new(big.Int).SetString(req.AmountWei, 10)
	if !ok {
		return presenter.BadRequestMessage(c, "Please enter a valid amount")
	}

	hash, err := h.setups.Fund(ctx, c.Param("id"), amount)
	if err != nil {
		span.RecordError(err)
		return presenter.Error(c, err)
	}
	return presenter.OK(c, txResponse{
		TxHash:      hash.Hex(),
		ExplorerURL: sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkTx, hash.Hex()),
	})
}

type tokenRequest struct {
	Name   string `json:"name" validate:"required,max=64"`
	Symbol string `json:"symbol" validate:"required"`
}

func (h *Handler) handleCreateToken(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Rest.Handler.CreateToken")
	defer span.End()

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return presenter.BadRequestMessage(c, "token name and symbol are required")
	}

	hash, err := h.setups.CreateToken(ctx, c.Param("id"), req.Name, req.Symbol)
	if err != nil {
		span.RecordError(err)
		return presenter.Error(c, err)
	}
	return c.JSON(http.StatusAccepted, txResponse{
		TxHash:      hash.Hex(),
		ExplorerURL: sharedbag.ExplorerURL(h.explorerURL, sharedbag.LinkTx, hash.Hex()),
	})
}

func (h *Handler) handleRetry(c echo.Context) error {
	state, err := h.setups.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(state))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const pingInterval = 30 * time.Second

// handleEvents streams setup snapshots. The current snapshot is sent on
// connect, then one message per change.
func (h *Handler) handleEvents(c echo.Context) error {
	id := c.Param("id")

	state, err := h.setups.Snapshot(c.Request().Context(), id)
	if err != nil {
		return presenter.Error(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	events, err := h.signal.Subscribe(ctx, usecase.SetupChannel(id))
	if err != nil {
		slog.ErrorContext(
			ctx, "Failed to subscribe",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return nil
	}

	initial := sharedbag.Event{
		SetupID:   id,
		Stage:     state.Stage.String(),
		Payload:   state,
		Timestamp: time.Now(),
	}
	if err := ws.WriteJSON(initial); err != nil {
		return nil
	}

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				var wsErr *websocket.CloseError
				if errors.As(err, &wsErr) && wsErr.Code != websocket.CloseNormalClosure && wsErr.Code != websocket.CloseGoingAway {
					slog.DebugContext(
						ctx, "WebSocket closed",
						slog.String("error", wsErr.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(event); err != nil {
				slog.DebugContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return nil
			}
		}
	}
}
