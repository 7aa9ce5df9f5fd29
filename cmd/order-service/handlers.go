package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/httpx"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/metrics"
	"github.com/MikeMC777/ordenes-credito/internal/order"
	"github.com/MikeMC777/ordenes-credito/internal/payment"
)

func newRouter(svc *services, secret string, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(svc.log.With("component", "http")), httpx.Metrics(m))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	a := r.Group("/", httpx.Auth(secret))

	a.POST("/orders", placeOrderHandler(svc))
	a.GET("/orders/:id", getOrderHandler(svc))
	a.POST("/orders/:id/cancel", cancelOrderHandler(svc))
	a.POST("/orders/:id/approve-credit", approveCreditHandler(svc))
	a.POST("/orders/:id/status", advanceOrderHandler(svc))
	a.POST("/orders/:id/items/:item_id/substitute", substituteItemHandler(svc))
	a.DELETE("/orders/:id/items/:item_id", cancelItemHandler(svc))
	a.PUT("/orders/:id/items/:item_id/prepared", markPreparedHandler(svc, true))
	a.DELETE("/orders/:id/items/:item_id/prepared", markPreparedHandler(svc, false))
	a.GET("/orders/:id/prepared", preparedHandler(svc))
	a.GET("/orders/:id/return-eligibility", returnEligibilityHandler(svc))
	a.POST("/orders/:id/returns", processReturnHandler(svc))
	a.POST("/orders/:id/acknowledge", acknowledgeHandler(svc))

	a.GET("/shops/:shop_id/orders", shopOrdersHandler(svc))
	a.GET("/shops/:shop_id/orders/stream", shopOrdersStreamHandler(svc))
	a.GET("/me/orders", myOrdersHandler(svc))
	a.GET("/me/orders/stream", myOrdersStreamHandler(svc))

	a.GET("/shops/:shop_id/accounts", shopAccountsHandler(svc))
	a.GET("/shops/:shop_id/accounts/stream", shopAccountsStreamHandler(svc))
	a.GET("/shops/:shop_id/accounts/:customer_id", accountHandler(svc))
	a.PUT("/shops/:shop_id/accounts/:customer_id/limit", setLimitHandler(svc))
	a.POST("/shops/:shop_id/accounts/:customer_id/payments", recordPaymentHandler(svc))
	a.GET("/me/accounts/:shop_id", myAccountHandler(svc))

	a.GET("/shops/:shop_id/payments", shopPaymentsHandler(svc))
	a.GET("/me/payments", myPaymentsHandler(svc))
	a.DELETE("/payments/:id", cancelPaymentHandler(svc))
	a.POST("/payments/:id/confirm", confirmPaymentHandler(svc))
	a.POST("/payments/:id/decline", declinePaymentHandler(svc))
	return r
}

type reasonBody struct {
	Reason string `json:"reason,omitempty" example:"customer changed address"`
}

type statusBody struct {
	Status order.Status `json:"status" example:"preparing"`
}

type preparedBody struct {
	Prepared []string `json:"prepared"`
}

type limitBody struct {
	CreditLimit decimal.Decimal `json:"creditLimit" swaggertype:"string" example:"2500.00"`
}

type paymentBody struct {
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"150.00"`
	Note   string          `json:"note,omitempty"`
}

// bindOptional decodes an optional JSON body; an empty body leaves dst alone.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		httpx.BadRequest(c, err)
		return false
	}
	return true
}

func listQuery(c *gin.Context) (order.ListQuery, bool) {
	q := order.ListQuery{Status: order.Status(c.Query("status"))}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			httpx.Abort(c, http.StatusBadRequest, "bad_request", name+" must be an integer")
			return q, false
		}
		*dst = n
	}
	return q.Normalized(), true
}

// stream sends every value of ch as a server-sent "snapshot" event until the
// client goes away or ch closes.
func stream[T any](c *gin.Context, ch <-chan T) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		v, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("snapshot", v)
		return true
	})
}

// placeOrderHandler godoc
//
//	@Summary	Place an order
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		body	body		order.PlaceInput	true	"order"
//	@Success	201		{object}	order.Result
//	@Failure	400		{object}	httpx.APIError
//	@Failure	422		{object}	httpx.APIError
//	@Router		/orders [post]
func placeOrderHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.PlaceInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		res, err := svc.orders.Place(c.Request.Context(), httpx.Actor(c), in)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// getOrderHandler godoc
//
//	@Summary	Get an order
//	@Tags		orders
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"order id"
//	@Success	200	{object}	order.Order
//	@Failure	404	{object}	httpx.APIError
//	@Router		/orders/{id} [get]
func getOrderHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.orders.Get(c.Request.Context(), httpx.Actor(c), c.Param("id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// result runs an order mutation and writes its Result.
func result(c *gin.Context, svc *services, fn func(ctx context.Context) (*order.Result, error)) {
	res, err := fn(c.Request.Context())
	if err != nil {
		httpx.Error(c, svc.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// cancelOrderHandler godoc
//
//	@Summary	Cancel an order
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string		true	"order id"
//	@Param		body	body		reasonBody	false	"reason"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/cancel [post]
func cancelOrderHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reasonBody
		if !bindOptional(c, &body) {
			return
		}
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.CancelOrder(ctx, httpx.Actor(c), c.Param("id"), body.Reason)
		})
	}
}

// approveCreditHandler godoc
//
//	@Summary	Approve the credit portion of an order
//	@Tags		orders
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"order id"
//	@Success	200	{object}	order.Result
//	@Failure	409	{object}	httpx.APIError
//	@Failure	422	{object}	httpx.APIError
//	@Router		/orders/{id}/approve-credit [post]
func approveCreditHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.ApproveCredit(ctx, httpx.Actor(c), c.Param("id"))
		})
	}
}

// advanceOrderHandler godoc
//
//	@Summary	Move an order to its next fulfillment status
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string		true	"order id"
//	@Param		body	body		statusBody	true	"target status"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/status [post]
func advanceOrderHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body statusBody
		if err := c.ShouldBindJSON(&body); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.Advance(ctx, httpx.Actor(c), c.Param("id"), body.Status)
		})
	}
}

// substituteItemHandler godoc
//
//	@Summary	Substitute an order line
//	@Tags		fulfillment
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string					true	"order id"
//	@Param		item_id	path		string					true	"line id"
//	@Param		body	body		order.SubstituteInput	true	"replacement"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/items/{item_id}/substitute [post]
func substituteItemHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.SubstituteInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.Substitute(ctx, httpx.Actor(c), c.Param("id"), c.Param("item_id"), in)
		})
	}
}

// cancelItemHandler godoc
//
//	@Summary	Cancel an order line
//	@Tags		fulfillment
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string	true	"order id"
//	@Param		item_id	path		string	true	"line id"
//	@Param		reason	query		string	false	"reason"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/items/{item_id} [delete]
func cancelItemHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.CancelItem(ctx, httpx.Actor(c), c.Param("id"), c.Param("item_id"), c.Query("reason"))
		})
	}
}

// markPreparedHandler godoc
//
//	@Summary	Mark or unmark a line as prepared
//	@Tags		fulfillment
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path	string	true	"order id"
//	@Param		item_id	path	string	true	"line id"
//	@Success	200		{object}	preparedBody
//	@Router		/orders/{id}/items/{item_id}/prepared [put]
//	@Router		/orders/{id}/items/{item_id}/prepared [delete]
func markPreparedHandler(svc *services, mark bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn := svc.orders.UnmarkPrepared
		if mark {
			fn = svc.orders.MarkPrepared
		}
		ids, err := fn(c.Request.Context(), httpx.Actor(c), c.Param("id"), c.Param("item_id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, preparedBody{Prepared: ids})
	}
}

// preparedHandler godoc
//
//	@Summary	List prepared lines
//	@Tags		fulfillment
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path	string	true	"order id"
//	@Success	200	{object}	preparedBody
//	@Router		/orders/{id}/prepared [get]
func preparedHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := svc.orders.Prepared(c.Request.Context(), httpx.Actor(c), c.Param("id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, preparedBody{Prepared: ids})
	}
}

// returnEligibilityHandler godoc
//
//	@Summary	Check whether an order can still be returned
//	@Tags		returns
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"order id"
//	@Success	200	{object}	order.Eligibility
//	@Router		/orders/{id}/return-eligibility [get]
func returnEligibilityHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.orders.ReturnEligibility(c.Request.Context(), httpx.Actor(c), c.Param("id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// processReturnHandler godoc
//
//	@Summary	Process a return
//	@Tags		returns
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string				true	"order id"
//	@Param		body	body		order.ReturnInput	true	"returned lines"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/returns [post]
func processReturnHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.ReturnInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.ProcessReturn(ctx, httpx.Actor(c), c.Param("id"), in)
		})
	}
}

// acknowledgeHandler godoc
//
//	@Summary	Acknowledge receipt of an order
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string					true	"order id"
//	@Param		body	body		order.AcknowledgeInput	true	"rating"
//	@Success	200		{object}	order.Result
//	@Router		/orders/{id}/acknowledge [post]
func acknowledgeHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in order.AcknowledgeInput
		if err := c.ShouldBindJSON(&in); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		result(c, svc, func(ctx context.Context) (*order.Result, error) {
			return svc.orders.Acknowledge(ctx, httpx.Actor(c), c.Param("id"), in)
		})
	}
}

// shopOrdersHandler godoc
//
//	@Summary	List a shop's orders
//	@Tags		orders
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id	path	string	true	"shop id"
//	@Param		status	query	string	false	"status filter"
//	@Param		limit	query	int		false	"page size (max 100)"
//	@Param		offset	query	int		false	"offset"
//	@Success	200		{array}	order.Order
//	@Router		/shops/{shop_id}/orders [get]
func shopOrdersHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := listQuery(c)
		if !ok {
			return
		}
		out, err := svc.orders.ListForShop(c.Request.Context(), httpx.Actor(c), c.Param("shop_id"), q)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out, "limit": q.Limit, "offset": q.Offset})
	}
}

// shopOrdersStreamHandler godoc
//
//	@Summary	Stream a shop's orders as server-sent events
//	@Tags		orders
//	@Produce	text/event-stream
//	@Security	BearerAuth
//	@Param		shop_id	path	string	true	"shop id"
//	@Param		status	query	string	false	"status filter"
//	@Router		/shops/{shop_id}/orders/stream [get]
func shopOrdersStreamHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := listQuery(c)
		if !ok {
			return
		}
		ch, err := svc.orders.WatchShop(c.Request.Context(), httpx.Actor(c), c.Param("shop_id"), q)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		stream(c, ch)
	}
}

// myOrdersHandler godoc
//
//	@Summary	List the caller's orders
//	@Tags		orders
//	@Produce	json
//	@Security	BearerAuth
//	@Param		status	query	string	false	"status filter"
//	@Param		limit	query	int		false	"page size (max 100)"
//	@Param		offset	query	int		false	"offset"
//	@Success	200		{array}	order.Order
//	@Router		/me/orders [get]
func myOrdersHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := listQuery(c)
		if !ok {
			return
		}
		out, err := svc.orders.ListForCustomer(c.Request.Context(), httpx.Actor(c), q)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out, "limit": q.Limit, "offset": q.Offset})
	}
}

// myOrdersStreamHandler godoc
//
//	@Summary	Stream the caller's orders as server-sent events
//	@Tags		orders
//	@Produce	text/event-stream
//	@Security	BearerAuth
//	@Router		/me/orders/stream [get]
func myOrdersStreamHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := listQuery(c)
		if !ok {
			return
		}
		ch, err := svc.orders.WatchCustomer(c.Request.Context(), httpx.Actor(c), q)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		stream(c, ch)
	}
}

// shopAccountsHandler godoc
//
//	@Summary	List a shop's credit accounts
//	@Tags		credit
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id	path	string	true	"shop id"
//	@Success	200		{array}	ledger.Account
//	@Router		/shops/{shop_id}/accounts [get]
func shopAccountsHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.ledger.AccountsByShop(c.Request.Context(), httpx.Actor(c), c.Param("shop_id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

// shopAccountsStreamHandler godoc
//
//	@Summary	Stream a shop's credit accounts as server-sent events
//	@Tags		credit
//	@Produce	text/event-stream
//	@Security	BearerAuth
//	@Param		shop_id	path	string	true	"shop id"
//	@Router		/shops/{shop_id}/accounts/stream [get]
func shopAccountsStreamHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := svc.ledger.WatchShop(c.Request.Context(), httpx.Actor(c), c.Param("shop_id"))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		stream(c, ch)
	}
}

func writeAccount(c *gin.Context, svc *services, key ledger.Key) {
	acc, err := svc.ledger.Account(c.Request.Context(), httpx.Actor(c), key)
	if err != nil {
		httpx.Error(c, svc.log, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// accountHandler godoc
//
//	@Summary	Get a customer's credit account at the shop
//	@Tags		credit
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id		path		string	true	"shop id"
//	@Param		customer_id	path		string	true	"customer id"
//	@Success	200			{object}	ledger.Account
//	@Router		/shops/{shop_id}/accounts/{customer_id} [get]
func accountHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeAccount(c, svc, ledger.Key{CustomerID: c.Param("customer_id"), ShopID: c.Param("shop_id")})
	}
}

// myAccountHandler godoc
//
//	@Summary	Get the caller's credit account at a shop
//	@Tags		credit
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id	path		string	true	"shop id"
//	@Success	200		{object}	ledger.Account
//	@Router		/me/accounts/{shop_id} [get]
func myAccountHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeAccount(c, svc, ledger.Key{CustomerID: httpx.Actor(c).ID, ShopID: c.Param("shop_id")})
	}
}

// setLimitHandler godoc
//
//	@Summary	Set a customer's credit limit
//	@Tags		credit
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id		path		string		true	"shop id"
//	@Param		customer_id	path		string		true	"customer id"
//	@Param		body		body		limitBody	true	"new limit"
//	@Success	200			{object}	ledger.Account
//	@Router		/shops/{shop_id}/accounts/{customer_id}/limit [put]
func setLimitHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body limitBody
		if err := c.ShouldBindJSON(&body); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		key := ledger.Key{CustomerID: c.Param("customer_id"), ShopID: c.Param("shop_id")}
		acc, err := svc.ledger.SetCreditLimit(c.Request.Context(), httpx.Actor(c), key, body.CreditLimit)
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, acc)
	}
}

// recordPaymentHandler godoc
//
//	@Summary	Record a payment for the customer to confirm
//	@Tags		payments
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id		path		string		true	"shop id"
//	@Param		customer_id	path		string		true	"customer id"
//	@Param		body		body		paymentBody	true	"payment"
//	@Success	201			{object}	payment.PendingPayment
//	@Router		/shops/{shop_id}/accounts/{customer_id}/payments [post]
func recordPaymentHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body paymentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			httpx.BadRequest(c, err)
			return
		}
		p, err := svc.payments.Record(c.Request.Context(), httpx.Actor(c), payment.RecordInput{
			CustomerID: c.Param("customer_id"),
			ShopID:     c.Param("shop_id"),
			Amount:     body.Amount,
			Note:       body.Note,
		})
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// shopPaymentsHandler godoc
//
//	@Summary	List a shop's pending payments
//	@Tags		payments
//	@Produce	json
//	@Security	BearerAuth
//	@Param		shop_id	path	string	true	"shop id"
//	@Param		status	query	string	false	"status filter"
//	@Success	200		{array}	payment.PendingPayment
//	@Router		/shops/{shop_id}/payments [get]
func shopPaymentsHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.payments.ListForShop(c.Request.Context(), httpx.Actor(c), c.Param("shop_id"), payment.Status(c.Query("status")))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

// myPaymentsHandler godoc
//
//	@Summary	List the caller's pending payments
//	@Tags		payments
//	@Produce	json
//	@Security	BearerAuth
//	@Param		status	query	string	false	"status filter"
//	@Success	200		{array}	payment.PendingPayment
//	@Router		/me/payments [get]
func myPaymentsHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.payments.ListForCustomer(c.Request.Context(), httpx.Actor(c), payment.Status(c.Query("status")))
		if err != nil {
			httpx.Error(c, svc.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

func writePayment(c *gin.Context, svc *services, p *payment.PendingPayment, err error) {
	if err != nil {
		httpx.Error(c, svc.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// cancelPaymentHandler godoc
//
//	@Summary	Cancel a pending payment
//	@Tags		payments
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string	true	"payment id"
//	@Param		reason	query		string	false	"reason"
//	@Success	200		{object}	payment.PendingPayment
//	@Router		/payments/{id} [delete]
func cancelPaymentHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.payments.Cancel(c.Request.Context(), httpx.Actor(c), c.Param("id"), c.Query("reason"))
		writePayment(c, svc, p, err)
	}
}

// confirmPaymentHandler godoc
//
//	@Summary	Confirm a pending payment
//	@Tags		payments
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"payment id"
//	@Success	200	{object}	payment.PendingPayment
//	@Router		/payments/{id}/confirm [post]
func confirmPaymentHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.payments.Confirm(c.Request.Context(), httpx.Actor(c), c.Param("id"))
		writePayment(c, svc, p, err)
	}
}

// declinePaymentHandler godoc
//
//	@Summary	Decline a pending payment
//	@Tags		payments
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string		true	"payment id"
//	@Param		body	body		reasonBody	false	"reason"
//	@Success	200		{object}	payment.PendingPayment
//	@Router		/payments/{id}/decline [post]
func declinePaymentHandler(svc *services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reasonBody
		if !bindOptional(c, &body) {
			return
		}
		p, err := svc.payments.Decline(c.Request.Context(), httpx.Actor(c), c.Param("id"), body.Reason)
		writePayment(c, svc, p, err)
	}
}
