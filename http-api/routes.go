package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/catalog"
	"github.com/andrewreder/x402-marketplace/config"
	mcpserver "github.com/andrewreder/x402-marketplace/mcp"
	"github.com/andrewreder/x402-marketplace/providers"
	"github.com/andrewreder/x402-marketplace/telemetry"
	"github.com/andrewreder/x402-marketplace/x402"
)

const (
	jokeToolPrice          = "0.0005"
	connectionCheckTimeout = 5 * time.Second
)

// Deps are the collaborators the marketplace router is built from.
type Deps struct {
	Config *config.Config
	Gate   *x402.Gate
	// Weather and Rates may be nil when their API keys are not configured.
	Weather *providers.OpenWeather
	Rates   *providers.ExchangeRate
	// HTTPClient is used for MCP proxying and the settlement connection check.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Resource represents a discoverable resource
type Resource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Price       string `json:"price"`
}

type handlers struct {
	cfg        *config.Config
	weather    *providers.OpenWeather
	rates      *providers.ExchangeRate
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewRouter builds the Gin router with all HTTP routes registered.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil || deps.Gate == nil {
		return nil, fmt.Errorf("httpapi: config and gate are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	r := gin.New()
	r.Use(gin.Recovery(), telemetry.RequestID(), telemetry.RequestLogger(logger), corsMiddleware())

	h := &handlers{
		cfg:        deps.Config,
		weather:    deps.Weather,
		rates:      deps.Rates,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}

	if err := registerPaidRoutes(r, deps.Gate, h); err != nil {
		return nil, err
	}
	registerMarketplaceRoutes(r, h)
	if err := registerDiscoveryRoutes(r, deps.Gate, h); err != nil {
		return nil, err
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r, nil
}

func registerMarketplaceRoutes(r *gin.Engine, h *handlers) {
	api := r.Group("/api")
	api.GET("/marketplace", h.marketplace)
	api.GET("/apis/:id", h.apiByID)
	api.GET("/test-connection", h.testConnection)
}

func (h *handlers) resourceOptions() mcpserver.ResourceOptions {
	return mcpserver.ResourceOptions{
		BaseURL:           h.cfg.Server.PublicBaseURL,
		PayTo:             h.cfg.Payment.Recipient,
		Network:           string(h.cfg.Payment.Network),
		Asset:             h.cfg.Payment.Asset,
		AssetDecimals:     h.cfg.Payment.AssetDecimals,
		MaxTimeoutSeconds: h.cfg.Payment.MaxTimeoutSeconds,
	}
}

func registerDiscoveryRoutes(r *gin.Engine, gate *x402.Gate, h *handlers) error {
	baseURL := h.cfg.Server.PublicBaseURL

	// GET /discovery/resources - Returns list of available resources
	r.GET("/discovery/resources", func(c *gin.Context) {
		listings := catalog.All()
		resources := make([]Resource, 0, len(listings))
		for _, l := range listings {
			resources = append(resources, Resource{
				ID:          l.ID,
				Name:        l.Name,
				Description: l.Description,
				URI:         baseURL + l.Endpoint,
				Price:       l.DisplayPrice(),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"resources": resources,
		})
	})

	// GET /discovery/x402 - Returns x402 entries for available HTTP endpoints
	r.GET("/discovery/x402", func(c *gin.Context) {
		entries, err := mcpserver.BuildDiscoveryResources(catalog.All(), h.resourceOptions())
		if err != nil {
			h.logger.Error("failed to build discovery entries", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build discovery entries"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
		})
	})

	// MCP streamable HTTP endpoint
	resources, err := mcpserver.BuildDiscoveryResources(catalog.All(), h.resourceOptions())
	if err != nil {
		return fmt.Errorf("failed to build MCP discovery resources: %w", err)
	}
	tools := x402.NewToolGate(gate, baseURL+"/discovery/mcp")
	tools.SetToolPrice(mcpserver.TellJokeTool, x402.Route{
		Price:       jokeToolPrice,
		Description: "Get a random programming or web3 joke",
	})
	discoveryServer, err := mcpserver.NewServer(mcpserver.Config{
		Resources:  resources,
		HTTPClient: h.httpClient,
		ToolGate:   tools,
		Logger:     h.logger.Named("mcp"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP discovery server: %w", err)
	}
	r.Any("/discovery/mcp", gin.WrapH(discoveryServer.Handler()))
	return nil
}

func (h *handlers) marketplace(c *gin.Context) {
	apis := catalog.All()
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		apis = catalog.ByCategory(category)
	}
	c.JSON(http.StatusOK, gin.H{
		"apis":       apis,
		"categories": catalog.Categories(),
		"total":      len(apis),
	})
}

func (h *handlers) apiByID(c *gin.Context) {
	listing, ok := catalog.ByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "API not found"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// testConnection checks the Settlement Authority so operators can tell a
// network problem from a payment problem.
func (h *handlers) testConnection(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectionCheckTimeout)
	defer cancel()

	check := gin.H{"url": h.cfg.Settlement.URL}
	start := h.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.cfg.Settlement.URL, nil)
	if err == nil {
		var resp *http.Response
		resp, err = h.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			check["status"] = resp.StatusCode
			check["ok"] = resp.StatusCode >= 200 && resp.StatusCode < 300
			check["time"] = h.now().Sub(start).Milliseconds()
		}
	}
	if err != nil {
		check["error"] = err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"settlement": check,
		"env_keys":   h.cfg.Settlement.SecretKey != "",
	})
}
