// Package api exposes the engine's operations over JSON/HTTP. The body
// carries the authoritative response code; the HTTP status is 200 whenever
// the engine produced an answer.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	clob "github.com/lightning-exchange/clob"
	"github.com/lightning-exchange/clob/protocol"
)

const defaultBookLevels = 20

// Server adapts the Engine and the MarketFeed to HTTP.
type Server struct {
	engine *clob.Engine
	feed   *clob.MarketFeed
}

func NewServer(engine *clob.Engine, feed *clob.MarketFeed) *Server {
	return &Server{engine: engine, feed: feed}
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.GET("/account", s.getAccount)
	v1.POST("/account/increase", s.increase)
	v1.POST("/account/decrease", s.decrease)
	v1.POST("/orders", s.placeOrder)
	v1.POST("/orders/cancel", s.cancelOrder)
	v1.GET("/orderbook", s.getOrderBook)
	v1.GET("/ticker", s.getTicker)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) getAccount(c *gin.Context) {
	accountID, ok := queryInt32(c, "account_id", true)
	if !ok {
		return
	}
	currencyID, ok := queryInt32(c, "currency_id", false)
	if !ok {
		return
	}

	resp, err := s.engine.GetAccount(c.Request.Context(), accountID, currencyID)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) increase(c *gin.Context) {
	var req protocol.IncreaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ensureRequestID(&req.RequestID)

	resp, err := s.engine.Increase(c.Request.Context(), req.AccountID, req.CurrencyID, req.Amount)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) decrease(c *gin.Context) {
	var req protocol.DecreaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ensureRequestID(&req.RequestID)

	resp, err := s.engine.Decrease(c.Request.Context(), req.AccountID, req.CurrencyID, req.Amount)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) placeOrder(c *gin.Context) {
	var req protocol.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ensureRequestID(&req.RequestID)

	resp, err := s.engine.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req protocol.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ensureRequestID(&req.RequestID)

	resp, err := s.engine.CancelOrder(c.Request.Context(), req.AccountID, req.SymbolID, req.OrderID)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getOrderBook(c *gin.Context) {
	symbolID, ok := queryInt32(c, "symbol_id", true)
	if !ok {
		return
	}

	levels := int32(defaultBookLevels)
	if raw, present := c.GetQuery("levels"); present {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusOK, gin.H{"code": protocol.CodeInvalidArgument, "message": "invalid levels"})
			return
		}
		levels = int32(parsed)
	}

	resp, err := s.engine.OrderBook(c.Request.Context(), symbolID, levels)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTicker(c *gin.Context) {
	symbolID, ok := queryInt32(c, "symbol_id", true)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.feed.Ticker(symbolID))
}

// queryInt32 parses an int32 query parameter. A missing optional parameter
// yields zero.
func queryInt32(c *gin.Context, name string, required bool) (int32, bool) {
	raw, present := c.GetQuery(name)
	if !present {
		if required {
			c.JSON(http.StatusOK, gin.H{"code": protocol.CodeInvalidArgument, "message": name + " is required"})
			return 0, false
		}
		return 0, true
	}

	parsed, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"code": protocol.CodeInvalidArgument, "message": "invalid " + name})
		return 0, false
	}
	return int32(parsed), true
}

func ensureRequestID(id *string) {
	if *id == "" {
		*id = xid.New().String()
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{"code": protocol.CodeInvalidArgument, "message": err.Error()})
}

func engineError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{"code": protocol.CodeInternal, "message": err.Error()})
}
