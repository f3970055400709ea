package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/payments"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/validation"
)

func (h *handler) createPreference(c *gin.Context) {
	var req validation.PreferenceRequest
	if _, err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, h.log, err)
		return
	}
	pref, err := h.payments.CreatePreference(c.Request.Context(), userID(c), req.OrderID, req.PayerEmail)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *handler) chargeCard(c *gin.Context) {
	var req validation.CardPaymentRequest
	body, err := validation.BindAndValidate(c, &req, h.validate)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	res, replayed, err := h.payments.ChargeCard(c.Request.Context(), userID(c), payments.CardRequest{
		OrderID:         req.OrderID,
		Token:           req.Token,
		Installments:    req.Installments,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		PayerEmail:      req.PayerEmail,
		TestMode:        req.TestMode,
		SaveCard:        req.SaveCard,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(idempotency.HeaderKey)),
		RequestHash:     idempotency.Fingerprint(body),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusOK, res)
}

func (h *handler) createPix(c *gin.Context) {
	var req validation.PixRequest
	if _, err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, h.log, err)
		return
	}
	res, err := h.payments.CreatePix(c.Request.Context(), userID(c), req.OrderID, req.PayerEmail)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) createBoleto(c *gin.Context) {
	var req validation.BoletoRequest
	if _, err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, h.log, err)
		return
	}
	res, err := h.payments.CreateBoleto(c.Request.Context(), userID(c), payments.BoletoRequest{
		OrderID:    req.OrderID,
		TaxID:      req.TaxID,
		FullName:   req.FullName,
		PayerEmail: req.PayerEmail,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) pollPayment(c *gin.Context) {
	res, err := h.reconciler.Poll(c.Request.Context(), userID(c), c.Param("paymentId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) savedMethods(c *gin.Context) {
	list, err := h.payments.SavedMethods(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// paymentWebhook always acknowledges with 200 so the provider stops
// redelivering; the outcome is only logged. Providers may also send the
// notification as query parameters with an empty body.
func (h *handler) paymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	var n payments.Notification
	body, err := c.GetRawData()
	if err == nil && len(strings.TrimSpace(string(body))) > 0 {
		err = json.Unmarshal(body, &n)
	}
	if err != nil {
		h.log.Warn(h.log.WithField(ctx, "error", err.Error()), "unreadable webhook body")
	}
	if n.Type == "" {
		n.Type = c.Query("type")
	}
	if n.Data.ID == "" {
		n.Data.ID = c.Query("data.id")
	}

	outcome := h.reconciler.HandleWebhook(ctx, n, payments.WebhookHeaders{
		Signature: c.GetHeader("x-signature"),
		RequestID: c.GetHeader("x-request-id"),
	})
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
