package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/validation"
)

func (h *handler) createOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	body, err := validation.BindAndValidate(c, &req, h.validate)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	o, replayed, err := h.orders.Create(c.Request.Context(), orders.CreateInput{
		UserID:         userID(c),
		Items:          toItems(req.Items),
		Address:        toAddress(req.ShippingAddress),
		ShippingMethod: orders.ShippingMethod(req.ShippingMethod),
		ShippingPrice:  req.ShippingPrice,
		PaymentMethod:  orders.PaymentMethod(req.PaymentMethod),
		CouponCode:     req.CouponCode,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotency.HeaderKey)),
		RequestHash:    idempotency.Fingerprint(body),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusCreated, o)
}

func (h *handler) listOrders(c *gin.Context) {
	list, err := h.orders.List(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// updateOrder handles the customer PATCH, which only supports cancelling.
func (h *handler) updateOrder(c *gin.Context) {
	var req validation.CancelOrderRequest
	if _, err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, h.log, err)
		return
	}
	o, err := h.orders.Cancel(c.Request.Context(), userID(c), c.Param("id"), req.CancellationReason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) advanceShipping(c *gin.Context) {
	var req validation.AdminStatusRequest
	if _, err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, h.log, err)
		return
	}
	o, err := h.orders.AdvanceShipping(c.Request.Context(), c.Param("id"), orders.Status(req.Status), req.TrackingNumber, req.Comment)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func toItems(in []validation.ItemRequest) []orders.Item {
	out := make([]orders.Item, 0, len(in))
	for _, it := range in {
		out = append(out, orders.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Size:      it.Size,
			Color:     it.Color,
			Image:     it.Image,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	return out
}

func toAddress(a *validation.AddressRequest) *orders.Address {
	if a == nil {
		return nil
	}
	return &orders.Address{
		Recipient:    a.Recipient,
		Street:       a.Street,
		Number:       a.Number,
		Complement:   a.Complement,
		Neighborhood: a.Neighborhood,
		City:         a.City,
		State:        a.State,
		ZipCode:      a.ZipCode,
		Country:      a.Country,
	}
}
