package dynamofake

// Table names used by NewStorefront; they match the config defaults.
const (
	OrdersTable         = "orders"
	CountersTable       = "counters"
	CouponsTable        = "coupons"
	PaymentMethodsTable = "payment_methods"
	IdempotencyTable    = "idempotency"
)

// NewStorefront returns a client with every table and index the service uses.
func NewStorefront() *Client {
	c := New()
	c.CreateTable(OrdersTable, "order_id",
		Index{Name: "user_id-created_seq-index", HashKey: "user_id", RangeKey: "created_seq"},
		Index{Name: "payment_transaction_id-index", HashKey: "payment_transaction_id"},
		Index{Name: "status-payment_expires_at-index", HashKey: "status", RangeKey: "payment_expires_at"},
	)
	c.CreateTable(CountersTable, "counter_id")
	c.CreateTable(CouponsTable, "code")
	c.CreateTable(PaymentMethodsTable, "payment_method_id",
		Index{Name: "user_id-created_at-index", HashKey: "user_id", RangeKey: "created_at"},
	)
	c.CreateTable(IdempotencyTable, "idempotency_key")
	return c
}
