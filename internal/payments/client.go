package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

const (
	defaultBaseURL         = "https://api.mercadopago.com"
	errorBodyReadLimit     = 4096
	gatewayExpirationStamp = "2006-01-02T15:04:05.000-07:00"
)

var errAccessTokenRequired = errors.New("payment gateway access token is required")

// HTTPGateway talks to a Mercado Pago compatible REST API.
type HTTPGateway struct {
	httpClient      *http.Client
	baseURL         string
	accessToken     string
	notificationURL string
}

type Option func(*HTTPGateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *HTTPGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(g *HTTPGateway) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			g.baseURL = trimmed
		}
	}
}

// WithNotificationURL sets the webhook URL sent with every charge.
func WithNotificationURL(u string) Option {
	return func(g *HTTPGateway) {
		g.notificationURL = strings.TrimSpace(u)
	}
}

func NewHTTPGateway(accessToken string, timeout time.Duration, opts ...Option) (*HTTPGateway, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	g := &HTTPGateway{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     defaultBaseURL,
		accessToken: token,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

type wireItem struct {
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Cents `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type wirePayer struct {
	Email          string              `json:"email,omitempty"`
	FirstName      string              `json:"first_name,omitempty"`
	LastName       string              `json:"last_name,omitempty"`
	Identification *wireIdentification `json:"identification,omitempty"`
}

type wireIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type wirePreferenceRequest struct {
	Items             []wireItem `json:"items"`
	ExternalReference string     `json:"external_reference"`
	NotificationURL   string     `json:"notification_url,omitempty"`
	Payer             *wirePayer `json:"payer,omitempty"`
}

type wirePreference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type wirePaymentRequest struct {
	TransactionAmount money.Cents `json:"transaction_amount"`
	Token             string      `json:"token,omitempty"`
	Installments      int         `json:"installments,omitempty"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Description       string      `json:"description,omitempty"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	DateOfExpiration  string      `json:"date_of_expiration,omitempty"`
	Payer             wirePayer   `json:"payer"`
}

// wireID accepts ids encoded either as JSON numbers or strings.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	*id = wireID(strings.Trim(string(data), `"`))
	if *id == "null" {
		*id = ""
	}
	return nil
}

type wirePayment struct {
	ID                wireID      `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	PaymentMethodID   string      `json:"payment_method_id"`
	TransactionAmount money.Cents `json:"transaction_amount"`
	Installments      int         `json:"installments"`
	DateOfExpiration  *time.Time  `json:"date_of_expiration"`
	Card              struct {
		LastFourDigits  string `json:"last_four_digits"`
		ExpirationMonth int    `json:"expiration_month"`
		ExpirationYear  int    `json:"expiration_year"`
	} `json:"card"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	Barcode struct {
		Content string `json:"content"`
	} `json:"barcode"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

func (w *wirePayment) snapshot() *Snapshot {
	s := &Snapshot{
		ID:                string(w.ID),
		Status:            NormalizeStatus(w.Status),
		RawStatus:         w.Status,
		StatusDetail:      w.StatusDetail,
		ExternalReference: w.ExternalReference,
		PaymentMethodID:   w.PaymentMethodID,
		Amount:            w.TransactionAmount,
		Installments:      w.Installments,
		CardLastFour:      w.Card.LastFourDigits,
		CardExpMonth:      w.Card.ExpirationMonth,
		CardExpYear:       w.Card.ExpirationYear,
	}
	if MethodFor(w.PaymentMethodID) == orders.PaymentMethodCreditCard {
		s.CardBrand = w.PaymentMethodID
	}
	var expires time.Time
	if w.DateOfExpiration != nil {
		expires = w.DateOfExpiration.UTC()
	}
	if td := w.PointOfInteraction.TransactionData; td.QRCode != "" {
		s.Pix = &orders.PixCharge{QRCode: td.QRCode, QRCodeBase64: td.QRCodeBase64, ExpiresAt: expires}
	}
	if w.Barcode.Content != "" || (w.TransactionDetails.ExternalResourceURL != "" && MethodFor(w.PaymentMethodID) == orders.PaymentMethodBoleto) {
		s.Boleto = &orders.BoletoCharge{
			Barcode:   w.Barcode.Content,
			PDFURL:    w.TransactionDetails.ExternalResourceURL,
			ExpiresAt: expires,
		}
	}
	return s
}

func (g *HTTPGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body := wirePreferenceRequest{
		ExternalReference: req.ExternalReference,
		NotificationURL:   g.notificationURL,
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, wireItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CurrencyID: "BRL",
		})
	}
	if req.PayerEmail != "" {
		body.Payer = &wirePayer{Email: req.PayerEmail}
	}

	var out wirePreference
	if _, err := g.do(ctx, http.MethodPost, "/checkout/preferences", "", body, &out); err != nil {
		return nil, err
	}
	return &Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

func (g *HTTPGateway) ChargeCard(ctx context.Context, req CardCharge) (*Snapshot, error) {
	return g.createPayment(ctx, req.IdempotencyKey, wirePaymentRequest{
		TransactionAmount: req.Amount,
		Token:             req.Token,
		Installments:      req.Installments,
		PaymentMethodID:   req.PaymentMethodID,
		ExternalReference: req.ExternalReference,
		Payer:             wirePayer{Email: req.PayerEmail},
	})
}

func (g *HTTPGateway) CreatePix(ctx context.Context, req PixCharge) (*Snapshot, error) {
	return g.createPayment(ctx, req.IdempotencyKey, wirePaymentRequest{
		TransactionAmount: req.Amount,
		PaymentMethodID:   "pix",
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Payer:             wirePayer{Email: req.PayerEmail},
	})
}

func (g *HTTPGateway) CreateBoleto(ctx context.Context, req BoletoCharge) (*Snapshot, error) {
	return g.createPayment(ctx, req.IdempotencyKey, wirePaymentRequest{
		TransactionAmount: req.Amount,
		PaymentMethodID:   "bolbradesco",
		ExternalReference: req.ExternalReference,
		DateOfExpiration:  req.ExpiresAt.Format(gatewayExpirationStamp),
		Payer: wirePayer{
			Email:          req.PayerEmail,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			Identification: &wireIdentification{Type: req.TaxIDType, Number: req.TaxID},
		},
	})
}

func (g *HTTPGateway) GetPayment(ctx context.Context, paymentID string) (*Snapshot, error) {
	var out wirePayment
	status, err := g.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), "", nil, &out)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.snapshot(), nil
}

func (g *HTTPGateway) createPayment(ctx context.Context, idempotencyKey string, body wirePaymentRequest) (*Snapshot, error) {
	body.NotificationURL = g.notificationURL
	var out wirePayment
	if _, err := g.do(ctx, http.MethodPost, "/v1/payments", idempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return out.snapshot(), nil
}

// do sends one request. Transport failures and non-2xx answers come back as
// upstream errors whose public message hides the provider's text.
func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInternal, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUpstream, err, "payment gateway unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return resp.StatusCode, apperrors.Wrap(apperrors.CodeUpstream,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))),
			"payment gateway rejected the request")
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, apperrors.Wrap(apperrors.CodeUpstream, err, "decode gateway response")
		}
	}
	return resp.StatusCode, nil
}
