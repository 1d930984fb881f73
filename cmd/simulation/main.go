package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/foretell/foretell-api/internal/auth"
	"github.com/foretell/foretell-api/internal/database"
	"github.com/foretell/foretell-api/internal/markets"
	"github.com/foretell/foretell-api/internal/trading"
	"github.com/foretell/foretell-api/internal/types"
	"github.com/foretell/foretell-api/pkg/middleware"
)

const (
	minOrders     = 20
	maxOrders     = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	sides    = []string{types.SideBuy, types.SideSell}
	outcomes = []string{types.OutcomeYes, types.OutcomeNo}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the prediction-market API
type simulationClient struct {
	baseURL    string
	userToken  string
	adminToken string
	client     *http.Client
	stats      map[string]*routeStats
	statsMu    sync.Mutex
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates both the demo user and the admin reviewer
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"submit":  {name: "Create Submission"},
			"approve": {name: "Approve Submission"},
			"order":   {name: "Place Order"},
			"book":    {name: "Order Book"},
			"trades":  {name: "List Trades"},
			"market":  {name: "Get Market"},
		},
	}

	userToken, err := sc.authenticate(auth.DemoAPIKey, auth.DemoAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate demo user: %w", err)
	}
	sc.userToken = userToken

	adminToken, err := sc.authenticate(auth.AdminAPIKey, auth.AdminAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate admin: %w", err)
	}
	sc.adminToken = adminToken

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("auth", start, failed) }()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		failed = true
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// doJSON issues an authenticated request and decodes the response envelope's
// data field into out.
func (sc *simulationClient) doJSON(method, url, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == "POST" {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Str("url", url).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, url, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// createSubmission proposes a new market and returns its submission ID
func (sc *simulationClient) createSubmission() (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("submit", start, failed) }()

	payload := map[string]interface{}{
		"title":           fmt.Sprintf("Will the simulation finish before %s?", time.Now().Add(time.Hour).Format("15:04")),
		"description":     "Synthetic market created by the trading simulation.",
		"category":        "crypto",
		"resolution_type": "official_url",
		"resolution_url":  "https://example.com/resolution",
		"end_date":        time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"creator_name":    "Simulation",
	}

	var submission types.MarketSubmission
	err := sc.doJSON("POST", fmt.Sprintf("%s/api/v1/submissions", sc.baseURL), sc.userToken, payload, &submission)
	if err != nil {
		failed = true
		return "", err
	}
	if submission.SubmissionID == "" {
		failed = true
		return "", fmt.Errorf("no submission ID in response")
	}
	return submission.SubmissionID, nil
}

// approveSubmission approves a pending submission as the admin and returns
// the live market's ID
func (sc *simulationClient) approveSubmission(submissionID string) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("approve", start, failed) }()

	var market types.Market
	url := fmt.Sprintf("%s/api/v1/admin/submissions/%s/approve", sc.baseURL, submissionID)
	err := sc.doJSON("POST", url, sc.adminToken, map[string]bool{"featured": true}, &market)
	if err != nil {
		failed = true
		return "", err
	}
	if market.MarketID == "" {
		failed = true
		return "", fmt.Errorf("no market ID in response")
	}
	return market.MarketID, nil
}

// placeOrder submits a random order and returns the order's post-match state
func (sc *simulationClient) placeOrder(order map[string]interface{}) (*types.Order, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("order", start, failed) }()

	var placed types.Order
	err := sc.doJSON("POST", fmt.Sprintf("%s/api/v1/orders", sc.baseURL), sc.userToken, order, &placed)
	if err != nil {
		failed = true
		return nil, err
	}
	if placed.OrderID == "" {
		failed = true
		return nil, fmt.Errorf("no order ID in response")
	}
	return &placed, nil
}

// getOrderBook retrieves the market's aggregated book
func (sc *simulationClient) getOrderBook(marketID string) (*types.OrderBook, *types.SpreadInfo, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("book", start, failed) }()

	var result struct {
		Book   types.OrderBook  `json:"book"`
		Spread types.SpreadInfo `json:"spread"`
	}
	url := fmt.Sprintf("%s/api/v1/markets/%s/orderbook", sc.baseURL, marketID)
	if err := sc.doJSON("GET", url, sc.userToken, nil, &result); err != nil {
		failed = true
		return nil, nil, err
	}
	return &result.Book, &result.Spread, nil
}

// getTrades retrieves the market's recent trades
func (sc *simulationClient) getTrades(marketID string) ([]types.Trade, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("trades", start, failed) }()

	var trades []types.Trade
	url := fmt.Sprintf("%s/api/v1/markets/%s/trades?limit=500", sc.baseURL, marketID)
	if err := sc.doJSON("GET", url, sc.userToken, nil, &trades); err != nil {
		failed = true
		return nil, err
	}
	return trades, nil
}

// getMarket retrieves the market's current price and volume
func (sc *simulationClient) getMarket(marketID string) (*types.Market, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("market", start, failed) }()

	var market types.Market
	url := fmt.Sprintf("%s/api/v1/markets/%s", sc.baseURL, marketID)
	if err := sc.doJSON("GET", url, sc.userToken, nil, &market); err != nil {
		failed = true
		return nil, err
	}
	return &market, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the prediction-market simulation
// It starts a local API server, creates and approves a market, then simulates
// multiple concurrent traders placing orders against it
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Create a market through the full submission/review flow
	submissionID, err := simClient.createSubmission()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create submission")
	}
	log.Info().Str("submission_id", submissionID).Msg("Submission created")

	marketID, err := simClient.approveSubmission(submissionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to approve submission")
	}
	log.Info().Str("market_id", marketID).Msg("Market live")

	// Generate random number of orders to place
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect placed orders
	ordersChan := make(chan *types.Order, targetOrders)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			placeOrdersHTTP(workerID, targetOrders/numWorkers, marketID, simClient, ordersChan)
		}(i)
	}

	// Wait for all orders to be placed
	wg.Wait()
	close(ordersChan)

	// Collect statistics during processing
	stats := struct {
		TotalOrders  int
		FilledOrders int
		PartialFills int
		OpenOrders   int
		FailedOrders int
		StartTime    time.Time
		Sides        map[string]int
		Outcomes     map[string]int
	}{
		StartTime: time.Now(),
		Sides:     make(map[string]int),
		Outcomes:  make(map[string]int),
	}

	for order := range ordersChan {
		stats.TotalOrders++
		stats.Sides[order.Side]++
		stats.Outcomes[order.Outcome]++
		switch order.Status {
		case types.OrderStatusFilled:
			stats.FilledOrders++
		case types.OrderStatusPartiallyFilled:
			stats.PartialFills++
		default:
			stats.OpenOrders++
		}
	}

	log.Info().Int("orders_placed", stats.TotalOrders).Msg("All orders placed")

	// Final market state
	trades, err := simClient.getTrades(marketID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list trades")
	}
	book, spread, err := simClient.getOrderBook(marketID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get order book")
	}
	market, err := simClient.getMarket(marketID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get market")
	}

	var totalNotional, totalFees float64
	for _, trade := range trades {
		totalNotional += trade.Quantity * trade.Price
		totalFees += trade.Fee
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 PREDICTION MARKET SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Order Statistics
------------------
Total Orders:     %d
Filled:           %d
Partially Filled: %d
Still Open:       %d
Trades Executed:  %d
Total Notional:   $%.2f
Fees Collected:   $%.2f
Duration:         %v
`, stats.TotalOrders, stats.FilledOrders, stats.PartialFills, stats.OpenOrders,
		len(trades), totalNotional, totalFees, duration.Round(time.Millisecond))

	if market != nil {
		fmt.Printf(`
📈 Final Market State
--------------------
YES Price: %.2f
Volume:    %.2f
`, market.YesPrice, market.Volume)
	}
	if book != nil && spread != nil {
		fmt.Printf("Best Bid:  %.2f | Best Ask: %.2f | Bid Levels: %d | Ask Levels: %d\n",
			spread.BestBid, spread.BestAsk, len(book.Bids), len(book.Asks))
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n🎯 Outcome Distribution")
	fmt.Println("---------------------")
	for outcome, count := range stats.Outcomes {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", outcome, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	fillRate := float64(stats.FilledOrders) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("fill_rate", fillRate).
		Int("total_orders", stats.TotalOrders).
		Int("trades", len(trades)).
		Float64("total_notional", totalNotional).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// placeOrdersHTTP generates and submits random orders to the API
// Runs as a worker goroutine, sending placed orders to ordersChan
func placeOrdersHTTP(workerID, numOrders int, marketID string, simClient *simulationClient, ordersChan chan<- *types.Order) {
	for i := 0; i < numOrders; i++ {
		payload := map[string]interface{}{
			"market_id": marketID,
			"side":      sides[rand.Intn(len(sides))],
			"outcome":   outcomes[rand.Intn(len(outcomes))],
			"quantity":  float64(rand.Intn(50) + 1),
		}

		// Mostly limits clustered around even odds, with occasional market orders
		if rand.Float64() < 0.85 {
			payload["order_type"] = types.OrderTypeLimit
			payload["price"] = math.Round((0.30+rand.Float64()*0.40)*100) / 100
		} else {
			payload["order_type"] = types.OrderTypeMarket
		}

		order, err := simClient.placeOrder(payload)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Msg("Failed to place order")
			continue
		}

		ordersChan <- order
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", order.OrderID).
			Str("side", order.Side).
			Str("outcome", order.Outcome).
			Str("status", order.Status).
			Float64("quantity", order.Quantity).
			Float64("filled", order.FilledQuantity).
			Msg("Order placed")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
	}
}

// startServer initializes and starts the prediction-market API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(middleware.JWTSecret())
	marketService := markets.NewService(db, nil)
	tradingService := trading.NewService(db, nil)

	// Register demo credentials
	authService.RegisterAPICredentials(auth.DemoAPIKey, auth.DemoAPISecret)
	authService.RegisterAdminCredentials(auth.AdminAPIKey, auth.AdminAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	marketHandlers := markets.NewGinHandlers(marketService)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	// Setup routes
	setupRoutes(router, authHandlers, marketHandlers, tradingHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	marketHandlers *markets.GinHandlers,
	tradingHandlers *trading.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market routes
		marketsGroup := v1.Group("/markets")
		{
			marketsGroup.GET("/:market_id", marketHandlers.GetMarketHandler())
			marketsGroup.GET("/:market_id/orderbook", tradingHandlers.OrderBookHandler())
			marketsGroup.GET("/:market_id/trades", tradingHandlers.TradesHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", tradingHandlers.PlaceOrderHandler())
		}

		// Submission routes
		submissions := v1.Group("/submissions")
		submissions.Use(middleware.JWTAuth())
		{
			submissions.POST("", marketHandlers.CreateSubmissionHandler())
		}

		// Admin review routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth())
		{
			admin.POST("/submissions/:submission_id/approve", marketHandlers.ApproveSubmissionHandler())
		}
	}
}
