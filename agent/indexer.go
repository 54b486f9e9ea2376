package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	comethttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/urbit/azimuth/point"
	az_types "github.com/urbit/azimuth/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// chainClient is the part of the CometBFT RPC client the indexer follows.
type chainClient interface {
	Status(ctx context.Context) (*coretypes.ResultStatus, error)
	BlockResults(ctx context.Context, height *int64) (*coretypes.ResultBlockResults, error)
}

type ChainIndexer struct {
	logger        cmtlog.Logger
	Url           string
	Height        int64
	Interval      time.Duration
	db            *gorm.DB
	cli           chainClient
	dial          func() (chainClient, error)
	eventHandlers map[string]eventHandler
}

// OpenDB opens the sqlite database and migrates the indexer tables.
func OpenDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Height{}, &Point{}, &Poll{}, &Upgrade{}); err != nil {
		return nil, err
	}
	return db, nil
}

func NewChainIndexer(logger cmtlog.Logger, dbPath string, chainUrl string) (*ChainIndexer, error) {
	logger.Info("NewChainIndexer", "dbPath", dbPath, "url", chainUrl)
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	c, err := newChainIndexer(logger, db, func() (chainClient, error) {
		return comethttp.New(chainUrl, "/websocket")
	})
	if err != nil {
		return nil, err
	}
	c.Url = chainUrl
	return c, nil
}

func newChainIndexer(logger cmtlog.Logger, db *gorm.DB, dial func() (chainClient, error)) (*ChainIndexer, error) {
	h := Height{Id: 1}
	if err := db.First(&h).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c := &ChainIndexer{
		logger:   logger.With("module", "indexer"),
		Height:   int64(h.Height + 1),
		Interval: time.Second,
		db:       db,
		dial:     dial,
	}
	c.eventHandlers = map[string]eventHandler{
		az_types.EventOwnerChangedType:    c.handleEventOwnerChanged,
		az_types.EventActivatedType:       c.handleEventActivated,
		az_types.EventSpawnedType:         c.handleEventSpawned,
		az_types.EventEscapeRequestedType: c.handleEventSponsorship,
		az_types.EventEscapeCanceledType:  c.handleEventSponsorship,
		az_types.EventEscapeAcceptedType:  c.handleEventSponsorship,
		az_types.EventLostSponsorType:     c.handleEventSponsorship,
		az_types.EventChangedKeysType:     c.handleEventChangedKeys,
		az_types.EventBrokeContinuityType: c.handleEventBrokeContinuity,
		az_types.EventChangedProxyType:    c.handleEventChangedProxy,
		az_types.EventPollStartedType:     c.handleEventPoll,
		az_types.EventMajorityType:        c.handleEventPoll,
		az_types.EventUpgradedType:        c.handleEventUpgraded,
	}
	return c, nil
}

type eventHandler func(tx *gorm.DB, event abci.Event, height int64) error

func (c *ChainIndexer) handleEvent(tx *gorm.DB, event abci.Event, height int64) error {
	if h, ok := c.eventHandlers[event.Type]; ok {
		return h(tx, event, height)
	}
	return nil
}

// updatePoint loads the row for id, creating it when missing, applies fn and
// upserts the result.
func (c *ChainIndexer) updatePoint(tx *gorm.DB, id uint32, height int64, fn func(p *Point)) error {
	var p Point
	err := tx.Where("id = ?", id).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Point{
			Id:     id,
			Size:   point.SizeOf(id).String(),
			Prefix: point.Prefix(id),
		}
	case err != nil:
		return err
	}
	fn(&p)
	p.UpdatedHeight = uint64(height)
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error
}

func (c *ChainIndexer) handleEventOwnerChanged(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventOwnerChanged(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		p.Owner = e.Owner.Hex()
	})
}

func (c *ChainIndexer) handleEventActivated(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventActivated(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		p.Active = true
		p.Sponsor = point.Prefix(e.Point)
		p.HasSponsor = true
	})
}

func (c *ChainIndexer) handleEventSpawned(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventSpawned(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Child, height, func(p *Point) {})
}

func (c *ChainIndexer) handleEventSponsorship(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventSponsorship(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		switch event.Type {
		case az_types.EventEscapeRequestedType:
			p.EscapeRequested = true
			p.EscapeTo = e.Sponsor
		case az_types.EventEscapeCanceledType:
			p.EscapeRequested = false
			p.EscapeTo = 0
		case az_types.EventEscapeAcceptedType:
			p.EscapeRequested = false
			p.EscapeTo = 0
			p.Sponsor = e.Sponsor
			p.HasSponsor = true
		case az_types.EventLostSponsorType:
			p.HasSponsor = false
		}
	})
}

func (c *ChainIndexer) handleEventChangedKeys(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventChangedKeys(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		p.Crypt = e.Crypt.Hex()
		p.Auth = e.Auth.Hex()
		p.Suite = e.Suite
		p.KeyRevision = e.Revision
	})
}

func (c *ChainIndexer) handleEventBrokeContinuity(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventBrokeContinuity(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		p.Continuity = e.Number
	})
}

func (c *ChainIndexer) handleEventChangedProxy(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventChangedProxy(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	role, err := point.ParseProxyRole(e.Role)
	if err != nil {
		return err
	}
	proxy := ""
	if e.Proxy != (common.Address{}) {
		proxy = e.Proxy.Hex()
	}
	return c.updatePoint(tx, e.Point, height, func(p *Point) {
		switch role {
		case point.Management:
			p.ManagementProxy = proxy
		case point.Voting:
			p.VotingProxy = proxy
		case point.Spawn:
			p.SpawnProxy = proxy
		case point.Transfer:
			p.TransferProxy = proxy
		}
	})
}

func (c *ChainIndexer) handleEventPoll(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventPoll(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	var p Poll
	err := tx.Where("kind = ? AND subject = ?", e.Kind, e.Subject).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Poll{Kind: e.Kind, Subject: e.Subject}
	case err != nil:
		return err
	}
	if event.Type == az_types.EventMajorityType {
		p.Majority = true
		p.MajorityHeight = uint64(height)
	} else {
		p.Starts++
		p.StartedHeight = uint64(height)
	}
	return tx.Save(&p).Error
}

func (c *ChainIndexer) handleEventUpgraded(tx *gorm.DB, event abci.Event, height int64) error {
	e := az_types.DecodeEventUpgraded(event)
	if e == nil {
		return fmt.Errorf("malformed %v event", event.Type)
	}
	return tx.Create(&Upgrade{From: e.From.Hex(), To: e.To.Hex(), Height: uint64(height)}).Error
}

// indexBlock projects the events of the successful transactions at height
// and advances the stored height in one sqlite transaction.
func (c *ChainIndexer) indexBlock(results *coretypes.ResultBlockResults) error {
	height := results.Height
	return c.db.Transaction(func(tx *gorm.DB) error {
		for _, res := range results.TxsResults {
			if res.Code != 0 {
				continue
			}
			for _, event := range res.Events {
				if err := c.handleEvent(tx, event, height); err != nil {
					return err
				}
			}
		}
		return tx.Save(&Height{Id: 1, Height: uint64(height)}).Error
	})
}

func (c *ChainIndexer) connect() error {
	if c.cli != nil {
		return nil
	}
	cli, err := c.dial()
	if err != nil {
		return err
	}
	c.cli = cli
	return nil
}

// sync indexes every block up to the latest committed height.
func (c *ChainIndexer) sync(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	status, err := c.cli.Status(ctx)
	if err != nil {
		c.cli = nil
		return fmt.Errorf("get status: %w", err)
	}
	for status.SyncInfo.LatestBlockHeight >= c.Height {
		if ctx.Err() != nil {
			return nil
		}
		height := c.Height
		results, err := c.cli.BlockResults(ctx, &height)
		if err != nil {
			c.cli = nil
			return fmt.Errorf("get block results at %v: %w", height, err)
		}
		if err := c.indexBlock(results); err != nil {
			return fmt.Errorf("index block %v: %w", height, err)
		}
		c.logger.Debug("indexed block", "height", height)
		c.Height++
	}
	return nil
}

// Start follows the chain until ctx is canceled.
func (c *ChainIndexer) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.sync(ctx); err != nil {
				c.logger.Error("indexer sync fail", "height", c.Height, "err", err)
			}
		}
	}
}

// Close releases the sqlite handle.
func (c *ChainIndexer) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type PointFilter struct {
	Id      *uint32
	Owner   string
	Sponsor *uint32
	Size    string
	Active  *bool
}

func (f PointFilter) scope(q *gorm.DB) *gorm.DB {
	if f.Id != nil {
		q = q.Where("id = ?", *f.Id)
	}
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Sponsor != nil {
		q = q.Where("sponsor = ? AND has_sponsor = ?", *f.Sponsor, true)
	}
	if f.Size != "" {
		q = q.Where("size = ?", f.Size)
	}
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}
	return q
}

func (c *ChainIndexer) getPoints(f PointFilter, page int, pageSize int) ([]Point, int64, error) {
	var points []Point
	err := c.db.Scopes(f.scope).Order("id asc").Offset(page * pageSize).Limit(pageSize).Find(&points).Error
	if err != nil {
		return nil, 0, err
	}
	var total int64
	err = c.db.Model(&Point{}).Scopes(f.scope).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}
	return points, total, nil
}

type PollFilter struct {
	Kind     string
	Majority *bool
}

func (f PollFilter) scope(q *gorm.DB) *gorm.DB {
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Majority != nil {
		q = q.Where("majority = ?", *f.Majority)
	}
	return q
}

func (c *ChainIndexer) getPolls(f PollFilter, page int, pageSize int) ([]Poll, int64, error) {
	var polls []Poll
	err := c.db.Scopes(f.scope).Order("id desc").Offset(page * pageSize).Limit(pageSize).Find(&polls).Error
	if err != nil {
		return nil, 0, err
	}
	var total int64
	err = c.db.Model(&Poll{}).Scopes(f.scope).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}
	return polls, total, nil
}

func (c *ChainIndexer) getUpgrades(page int, pageSize int) ([]Upgrade, int64, error) {
	var upgrades []Upgrade
	err := c.db.Order("id desc").Offset(page * pageSize).Limit(pageSize).Find(&upgrades).Error
	if err != nil {
		return nil, 0, err
	}
	var total int64
	err = c.db.Model(&Upgrade{}).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}
	return upgrades, total, nil
}

func (c *ChainIndexer) getHeight() (uint64, error) {
	h := Height{Id: 1}
	err := c.db.First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return h.Height, err
}
