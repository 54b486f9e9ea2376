package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

type Service struct {
	engine     *gin.Engine
	indexer    *ChainIndexer
	listenAddr string
}

// NewService serves the indexer tables and the metrics in gatherer. A nil
// indexer leaves only /metrics answering.
func NewService(listenAddr string, indexer *ChainIndexer, gatherer prometheus.Gatherer) *Service {
	r := gin.Default()
	s := &Service{
		engine:     r,
		indexer:    indexer,
		listenAddr: listenAddr,
	}
	s.engine.POST("/getPoints", s.handleGetPoints)
	s.engine.POST("/getPolls", s.handleGetPolls)
	s.engine.POST("/getUpgrades", s.handleGetUpgrades)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

func (s *Service) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.listenAddr, Handler: s.engine}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type Paging struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func (p Paging) normalize() (int, int) {
	page, size := p.Page, p.PageSize
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func (s *Service) available(c *gin.Context) bool {
	if s.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "indexer disabled"})
		return false
	}
	return true
}

// checksumAddress normalizes to the form the indexer stores.
func checksumAddress(s string) (string, bool) {
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

type GetPointsReq struct {
	Paging
	Point   *uint32 `json:"point"`
	Owner   string  `json:"owner"`
	Sponsor *uint32 `json:"sponsor"`
	Size    string  `json:"size"`
	Active  *bool   `json:"active"`
}

type GetPointsResponse struct {
	Points []Point `json:"points"`
	Total  int64   `json:"total"`
	Height uint64  `json:"height"`
}

func (s *Service) handleGetPoints(c *gin.Context) {
	if !s.available(c) {
		return
	}
	var requestData GetPointsReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f := PointFilter{
		Id:      requestData.Point,
		Owner:   requestData.Owner,
		Sponsor: requestData.Sponsor,
		Size:    requestData.Size,
		Active:  requestData.Active,
	}
	if f.Owner != "" {
		owner, ok := checksumAddress(f.Owner)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner address"})
			return
		}
		f.Owner = owner
	}
	page, size := requestData.normalize()
	points, total, err := s.indexer.getPoints(f, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	height, err := s.indexer.getHeight()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	response := GetPointsResponse{Points: make([]Point, 0, len(points)), Total: total, Height: height}
	response.Points = append(response.Points, points...)
	c.JSON(http.StatusOK, response)
}

type GetPollsReq struct {
	Paging
	Kind     string `json:"kind"`
	Majority *bool  `json:"majority"`
}

type GetPollsResponse struct {
	Polls []Poll `json:"polls"`
	Total int64  `json:"total"`
}

func (s *Service) handleGetPolls(c *gin.Context) {
	if !s.available(c) {
		return
	}
	var requestData GetPollsReq
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, size := requestData.normalize()
	polls, total, err := s.indexer.getPolls(PollFilter{Kind: requestData.Kind, Majority: requestData.Majority}, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	response := GetPollsResponse{Polls: make([]Poll, 0, len(polls)), Total: total}
	response.Polls = append(response.Polls, polls...)
	c.JSON(http.StatusOK, response)
}

type GetUpgradesResponse struct {
	Upgrades []Upgrade `json:"upgrades"`
	Total    int64     `json:"total"`
}

func (s *Service) handleGetUpgrades(c *gin.Context) {
	if !s.available(c) {
		return
	}
	var requestData Paging
	if err := c.ShouldBindJSON(&requestData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, size := requestData.normalize()
	upgrades, total, err := s.indexer.getUpgrades(page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	response := GetUpgradesResponse{Upgrades: make([]Upgrade, 0, len(upgrades)), Total: total}
	response.Upgrades = append(response.Upgrades, upgrades...)
	c.JSON(http.StatusOK, response)
}
